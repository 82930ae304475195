package plugins

import (
	"fmt"
	"sort"

	"gooomd/engine"
)

// PluginKind 插件在规则里的角色
type PluginKind int

const (
	KindDetector PluginKind = iota
	KindAction
)

func (k PluginKind) String() string {
	if k == KindAction {
		return "action"
	}
	return "detector"
}

type registration struct {
	kind    PluginKind
	factory func() engine.Plugin
}

var registry = map[string]registration{}

// Register 按名字登记一个插件工厂，各插件文件在init里调用
func Register(name string, kind PluginKind, factory func() engine.Plugin) {
	if _, ok := registry[name]; ok {
		panic(fmt.Sprintf("plugin %s registered twice", name))
	}
	registry[name] = registration{kind: kind, factory: factory}
}

// MakePlugin 根据配置里的名字构造插件实例
func MakePlugin(name string) (engine.Plugin, PluginKind, error) {
	reg, ok := registry[name]
	if !ok {
		return nil, KindDetector, fmt.Errorf("unknown plugin %s", name)
	}
	return reg.factory(), reg.kind, nil
}

// Names 全部已登记的插件名，按名字排好序
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
