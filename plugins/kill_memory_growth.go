package plugins

import (
	"fmt"
	"strconv"

	log "github.com/sirupsen/logrus"

	"gooomd/cgroups"
	"gooomd/engine"
)

func init() {
	Register("kill_by_memory_size_or_growth", KindAction, func() engine.Plugin {
		return &KillMemoryGrowth{BaseKill: newBaseKill("kill_by_memory_size_or_growth")}
	})
}

// KillMemoryGrowth 动作：先按绝对用量杀大户，杀不到再按增速杀
// 第一轮：EffectiveUsage(计入保护量和adjust_cgroup修正)从大到小，
// current_usage占作用域总用量size_threshold%以上的才够格
// 第二轮：current/average增长率从大到小，增长率不低于growth_threshold的够格
type KillMemoryGrowth struct {
	BaseKill
	sizeThreshold   float64 // 百分比
	growthThreshold float64
}

func (p *KillMemoryGrowth) Init(resources engine.MonitoredResources, args engine.PluginArgs, cc engine.ConstructionContext) error {
	if err := p.initArgs(resources, args, cc); err != nil {
		return err
	}

	p.sizeThreshold = 50
	if raw, ok := args["size_threshold"]; ok {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 {
			return fmt.Errorf("argument=size_threshold invalid")
		}
		p.sizeThreshold = v
	}

	p.growthThreshold = 1.25
	if raw, ok := args["growing_size_ratio"]; ok {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 {
			return fmt.Errorf("argument=growing_size_ratio invalid")
		}
		p.growthThreshold = v
	}
	return nil
}

func (p *KillMemoryGrowth) Run(octx *cgroups.OomdContext) engine.PluginRet {
	// 第一轮按体量杀
	ret := p.runKill(octx,
		func(c *cgroups.CgroupContext) float64 { return float64(c.EffectiveUsage()) },
		func(pair *cgroups.ContextPair, all []cgroups.ContextPair) bool {
			var sum int64
			for i := range all {
				sum += all[i].Ctx.CurrentUsage
			}
			if sum == 0 {
				return false
			}
			return float64(pair.Ctx.CurrentUsage) >= p.sizeThreshold/100*float64(sum)
		})
	if ret != engine.Continue {
		return ret
	}

	// 没杀到，退化成按增长率杀
	log.Infof("No size candidate found, falling back to growth kill")
	return p.runKill(octx,
		func(c *cgroups.CgroupContext) float64 {
			if c.AverageUsage == 0 {
				return 0
			}
			return float64(c.CurrentUsage) / float64(c.AverageUsage)
		},
		func(pair *cgroups.ContextPair, all []cgroups.ContextPair) bool {
			if pair.Ctx.AverageUsage == 0 {
				return false
			}
			growth := float64(pair.Ctx.CurrentUsage) / float64(pair.Ctx.AverageUsage)
			return growth >= p.growthThreshold
		})
}
