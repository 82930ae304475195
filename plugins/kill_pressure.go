package plugins

import (
	"fmt"
	"math"

	"gooomd/cgroups"
	"gooomd/engine"
)

func init() {
	Register("kill_by_pressure", KindAction, func() engine.Plugin {
		return &KillPressure{BaseKill: newBaseKill("kill_by_pressure")}
	})
}

// KillPressure 动作：杀掉制造压力最多的cgroup
// 排序key取10秒和60秒平均压力各一半，排第一的直接杀
type KillPressure struct {
	BaseKill
	resource string
}

func (p *KillPressure) Init(resources engine.MonitoredResources, args engine.PluginArgs, cc engine.ConstructionContext) error {
	if err := p.initArgs(resources, args, cc); err != nil {
		return err
	}
	res, ok := args["resource"]
	if !ok || (res != "memory" && res != "io") {
		return fmt.Errorf("argument=resource missing or not (io|memory)")
	}
	p.resource = res
	return nil
}

func (p *KillPressure) Run(octx *cgroups.OomdContext) engine.PluginRet {
	return p.runKill(octx,
		func(c *cgroups.CgroupContext) float64 {
			pressure := c.Pressure
			if p.resource == "io" {
				pressure = c.IoPressure
			}
			avg := pressure.Avg10/2 + pressure.Avg60/2
			if math.IsNaN(avg) {
				return 0
			}
			return avg
		},
		nil)
}
