package plugins

import (
	"gooomd/cgroups"
	"gooomd/engine"
)

func init() {
	Register("kill_by_io_cost", KindAction, func() engine.Plugin {
		return &KillIOCost{BaseKill: newBaseKill("kill_by_io_cost")}
	})
}

// KillIOCost 动作：按IO开销速率从大到小杀，排第一的直接杀
type KillIOCost struct {
	BaseKill
}

func (p *KillIOCost) Init(resources engine.MonitoredResources, args engine.PluginArgs, cc engine.ConstructionContext) error {
	return p.initArgs(resources, args, cc)
}

func (p *KillIOCost) Run(octx *cgroups.OomdContext) engine.PluginRet {
	return p.runKill(octx,
		func(c *cgroups.CgroupContext) float64 { return c.IoCostRate },
		nil)
}
