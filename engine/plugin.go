package engine

import (
	"time"

	"gooomd/cgroups"
)

// PluginRet 插件每次Run的返回值
type PluginRet int

const (
	// Continue 检测器表示命中，动作表示做完了可以继续跑后面的动作
	Continue PluginRet = iota
	// Stop 检测器表示未命中，动作表示终止本组后续动作
	Stop
	// AsyncPaused 动作还没做完，这个tick先停在这里，下个tick从这个位置继续
	AsyncPaused
)

func (r PluginRet) String() string {
	switch r {
	case Continue:
		return "CONTINUE"
	case Stop:
		return "STOP"
	case AsyncPaused:
		return "ASYNC_PAUSED"
	}
	return "UNKNOWN"
}

// PluginArgs 配置文件里给插件的参数表，全是字符串
type PluginArgs map[string]string

// MonitoredResources 引擎要在每个tick采样的cgroup通配模式集合
// 各插件在Init时把自己关心的cgroup塞进来，主循环取并集去采样
type MonitoredResources map[cgroups.CgroupPath]struct{}

// Add 登记一个要监控的cgroup模式
func (m MonitoredResources) Add(p cgroups.CgroupPath) {
	m[p] = struct{}{}
}

// ConstructionContext 插件构造期需要的全局信息
// cgroup挂载点从这里显式传进去，不搞进程级的全局变量
type ConstructionContext struct {
	CgroupFs string        // cgroup v2挂载点，默认/sys/fs/cgroup
	Interval time.Duration // 主循环tick间隔
	Dry      bool          // 全局干跑开关，强制所有kill插件只记录不发信号
}

// Plugin 检测器和动作共用的接口
type Plugin interface {
	// Init 解析参数并把需要采样的cgroup登记到resources里
	// 参数不合法要返回错误，启动期直接失败
	Init(resources MonitoredResources, args PluginArgs, cc ConstructionContext) error
	// Run 每个tick跑一次
	Run(ctx *cgroups.OomdContext) PluginRet
	// Name 插件在配置里的名字
	Name() string
}
