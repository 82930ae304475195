package plugins

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"gooomd/cgroups"
	"gooomd/engine"
)

func init() {
	Register("memory_reclaim", KindDetector, func() engine.Plugin {
		return &MemoryReclaim{now: time.Now}
	})
}

// MemoryReclaim 检测器：有回收活动在进行
// 盯着各cgroup memory.stat里的pgscan计数，duration秒内涨过就算命中
type MemoryReclaim struct {
	cgroupPatterns []cgroups.CgroupPath
	duration       time.Duration

	lastPgscan    map[cgroups.CgroupPath]int64
	lastReclaimAt map[cgroups.CgroupPath]time.Time
	now           func() time.Time
}

func (p *MemoryReclaim) Name() string {
	return "memory_reclaim"
}

func (p *MemoryReclaim) Init(resources engine.MonitoredResources, args engine.PluginArgs, cc engine.ConstructionContext) error {
	paths, err := parseCgroupsArg(resources, args, cc)
	if err != nil {
		return err
	}
	p.cgroupPatterns = paths

	d, ok, err := parseDuration(args, "duration")
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("argument=duration not present")
	}
	p.duration = d

	p.lastPgscan = make(map[cgroups.CgroupPath]int64)
	p.lastReclaimAt = make(map[cgroups.CgroupPath]time.Time)
	return nil
}

func (p *MemoryReclaim) Run(octx *cgroups.OomdContext) engine.PluginRet {
	now := p.now()
	fired := false

	for _, pattern := range p.cgroupPatterns {
		for _, abs := range cgroups.ResolveWildcardPath(pattern) {
			cg := cgroups.NewCgroupPath(pattern.CgroupFs(), abs[len(pattern.CgroupFs()):])
			memstat, err := cgroups.GetMemstat(cg)
			if err != nil {
				// 解析不了就当这个cgroup没有回收活动
				continue
			}
			pgscan := memstat["pgscan"]
			if pgscan == 0 {
				pgscan = memstat["pgscan_kswapd"] + memstat["pgscan_direct"]
			}

			last, seen := p.lastPgscan[cg]
			p.lastPgscan[cg] = pgscan
			if seen && pgscan > last {
				p.lastReclaimAt[cg] = now
				log.Debugf("memory_reclaim cgroup=%s pgscan delta=%d", cg.RelativePath(), pgscan-last)
			}

			if at, ok := p.lastReclaimAt[cg]; ok && now.Sub(at) <= p.duration {
				fired = true
			}
		}
	}

	if fired {
		return engine.Continue
	}
	return engine.Stop
}
