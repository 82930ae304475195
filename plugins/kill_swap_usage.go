package plugins

import (
	"fmt"

	"gooomd/cgroups"
	"gooomd/engine"
)

func init() {
	Register("kill_by_swap_usage", KindAction, func() engine.Plugin {
		return &KillSwapUsage{BaseKill: newBaseKill("kill_by_swap_usage")}
	})
}

// KillSwapUsage 动作：按swap用量从大到小杀
// threshold下限默认0，支持SwapTotal的百分比写法，不到下限的不杀
type KillSwapUsage struct {
	BaseKill
	threshold Threshold
}

func (p *KillSwapUsage) Init(resources engine.MonitoredResources, args engine.PluginArgs, cc engine.ConstructionContext) error {
	if err := p.initArgs(resources, args, cc); err != nil {
		return err
	}
	if raw, ok := args["threshold"]; ok {
		thres, err := ParseThreshold(raw, 1)
		if err != nil {
			return fmt.Errorf("argument=threshold invalid: %v", err)
		}
		p.threshold = thres
	}
	return nil
}

func (p *KillSwapUsage) Run(octx *cgroups.OomdContext) engine.PluginRet {
	thresholdBytes := p.threshold.ResolveBytes(int64(octx.SystemContext().SwapTotal))
	return p.runKill(octx,
		func(c *cgroups.CgroupContext) float64 { return float64(c.SwapUsage) },
		func(pair *cgroups.ContextPair, all []cgroups.ContextPair) bool {
			return pair.Ctx.SwapUsage > thresholdBytes
		})
}
