package config

import (
	"encoding/json"
	"fmt"
	"io/ioutil"

	"gooomd/engine"
	"gooomd/plugins"
)

// PluginConfig 配置里的一个插件：名字加参数表
type PluginConfig struct {
	Name string            `json:"name"`
	Args map[string]string `json:"args"`
}

// DetectorGroupConfig 一个检测器组，组内全部命中才触发
type DetectorGroupConfig struct {
	Name      string         `json:"name"`
	Detectors []PluginConfig `json:"detectors"`
}

// RulesetConfig 一条规则：检测器组(任一命中)守着一串动作
type RulesetConfig struct {
	Name           string                `json:"name"`
	DetectorGroups []DetectorGroupConfig `json:"detector_groups"`
	Actions        []PluginConfig        `json:"actions"`
}

// Config 配置文件的顶层结构
type Config struct {
	Rulesets []RulesetConfig `json:"rulesets"`
}

// Load 从文件读入并反序列化配置
func Load(path string) (*Config, error) {
	content, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s error %v", path, err)
	}
	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s error %v", path, err)
	}
	if len(cfg.Rulesets) == 0 {
		return nil, fmt.Errorf("config %s has no rulesets", path)
	}
	return &cfg, nil
}

// Compile 把配置编译成可执行的引擎
// 每个插件在这里完成构造和Init，参数不合法会让整次启动失败
func Compile(cfg *Config, cc engine.ConstructionContext) (*engine.Engine, error) {
	resources := engine.MonitoredResources{}
	var rulesets []*engine.Ruleset

	for _, rs := range cfg.Rulesets {
		if rs.Name == "" {
			return nil, fmt.Errorf("ruleset missing name")
		}
		if len(rs.DetectorGroups) == 0 {
			return nil, fmt.Errorf("ruleset %s has no detector groups", rs.Name)
		}
		if len(rs.Actions) == 0 {
			return nil, fmt.Errorf("ruleset %s has no actions", rs.Name)
		}

		var groups []*engine.DetectorGroup
		for _, dg := range rs.DetectorGroups {
			var detectors []engine.Plugin
			for _, pc := range dg.Detectors {
				plugin, err := makePlugin(pc, plugins.KindDetector, resources, cc)
				if err != nil {
					return nil, fmt.Errorf("ruleset %s detector group %s: %v", rs.Name, dg.Name, err)
				}
				detectors = append(detectors, plugin)
			}
			if len(detectors) == 0 {
				return nil, fmt.Errorf("ruleset %s detector group %s is empty", rs.Name, dg.Name)
			}
			groups = append(groups, engine.NewDetectorGroup(dg.Name, detectors))
		}

		var actions []engine.Plugin
		for _, pc := range rs.Actions {
			plugin, err := makePlugin(pc, plugins.KindAction, resources, cc)
			if err != nil {
				return nil, fmt.Errorf("ruleset %s action: %v", rs.Name, err)
			}
			actions = append(actions, plugin)
		}

		rulesets = append(rulesets, engine.NewRuleset(rs.Name, groups, actions))
	}

	return engine.NewEngine(resources, rulesets), nil
}

func makePlugin(pc PluginConfig, wantKind plugins.PluginKind, resources engine.MonitoredResources, cc engine.ConstructionContext) (engine.Plugin, error) {
	plugin, kind, err := plugins.MakePlugin(pc.Name)
	if err != nil {
		return nil, err
	}
	if kind != wantKind {
		return nil, fmt.Errorf("plugin %s is a %v, expected %v", pc.Name, kind, wantKind)
	}
	args := engine.PluginArgs{}
	for k, v := range pc.Args {
		args[k] = v
	}
	if err := plugin.Init(resources, args, cc); err != nil {
		return nil, fmt.Errorf("plugin %s init error: %v", pc.Name, err)
	}
	return plugin, nil
}
