package plugins

import (
	"fmt"
	"strconv"

	log "github.com/sirupsen/logrus"

	"gooomd/cgroups"
	"gooomd/engine"
)

func init() {
	Register("adjust_cgroup", KindAction, func() engine.Plugin {
		return &AdjustCgroup{}
	})
}

// AdjustCgroup 动作：在内存里修正目标cgroup的有效用量
// 改的是本tick快照里的scale和adj，后面的插件按修正后的EffectiveUsage做决策，
// 不碰任何内核文件
type AdjustCgroup struct {
	cgroupPatterns []cgroups.CgroupPath
	memoryScale    float64
	memoryAdj      int64
}

func (p *AdjustCgroup) Name() string {
	return "adjust_cgroup"
}

func (p *AdjustCgroup) Init(resources engine.MonitoredResources, args engine.PluginArgs, cc engine.ConstructionContext) error {
	paths, err := parseCgroupsArg(resources, args, cc)
	if err != nil {
		return err
	}
	p.cgroupPatterns = paths

	p.memoryScale = 1.0
	if raw, ok := args["memory_scale"]; ok {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 {
			return fmt.Errorf("argument=memory_scale invalid")
		}
		p.memoryScale = v
	}

	if raw, ok := args["memory"]; ok {
		// memory可以是负数，带M/G后缀
		neg := false
		if len(raw) > 0 && raw[0] == '-' {
			neg = true
			raw = raw[1:]
		}
		thres, err := ParseThreshold(raw, 1)
		if err != nil || thres.IsPct {
			return fmt.Errorf("argument=memory invalid")
		}
		p.memoryAdj = thres.Bytes
		if neg {
			p.memoryAdj = -p.memoryAdj
		}
	}
	return nil
}

func (p *AdjustCgroup) Run(octx *cgroups.OomdContext) engine.PluginRet {
	for _, pair := range matchingPairs(octx, p.cgroupPatterns) {
		c := pair.Ctx
		c.MemoryScale = p.memoryScale
		c.MemoryAdj = p.memoryAdj
		octx.SetCgroupContext(pair.Path, c)
		log.Debugf("adjust_cgroup %s scale=%.2f adj=%d effective=%d",
			pair.Path.RelativePath(), p.memoryScale, p.memoryAdj, c.EffectiveUsage())
	}
	return engine.Continue
}
