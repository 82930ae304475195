package plugins

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"gooomd/cgroups"
	"gooomd/engine"
)

func init() {
	Register("memory_above", KindDetector, func() engine.Plugin {
		return &MemoryAbove{now: time.Now}
	})
}

// MemoryAbove 检测器：内存用量持续超过阈值
// threshold支持字节数、M/G后缀和MemTotal的百分比，裸数字为了兼容老配置按MB算
// 给了threshold_anon时改比anon用量，threshold被忽略
type MemoryAbove struct {
	cgroupPatterns  []cgroups.CgroupPath
	threshold       Threshold
	useAnon         bool
	duration        time.Duration
	meminfoLocation string
	debug           bool

	hitThresAt time.Time
	now        func() time.Time
}

func (p *MemoryAbove) Name() string {
	return "memory_above"
}

func (p *MemoryAbove) Init(resources engine.MonitoredResources, args engine.PluginArgs, cc engine.ConstructionContext) error {
	paths, err := parseCgroupsArg(resources, args, cc)
	if err != nil {
		return err
	}
	p.cgroupPatterns = paths

	if raw, ok := args["threshold_anon"]; ok {
		thres, err := ParseThreshold(raw, 1<<20)
		if err != nil {
			return fmt.Errorf("argument=threshold_anon invalid: %v", err)
		}
		p.threshold = thres
		p.useAnon = true
	} else if raw, ok := args["threshold"]; ok {
		thres, err := ParseThreshold(raw, 1<<20)
		if err != nil {
			return fmt.Errorf("argument=threshold invalid: %v", err)
		}
		p.threshold = thres
	} else {
		return fmt.Errorf("argument=threshold not present")
	}

	d, ok, err := parseDuration(args, "duration")
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("argument=duration not present")
	}
	p.duration = d

	p.meminfoLocation = "/proc/meminfo"
	if loc, ok := args["meminfo_location"]; ok && loc != "" {
		p.meminfoLocation = loc
	}
	p.debug = parseBool(args["debug"])
	return nil
}

func (p *MemoryAbove) Run(octx *cgroups.OomdContext) engine.PluginRet {
	var usage int64
	var usageCgroup string

	// 配置的cgroup里取用量最大的那个来比
	for _, pair := range matchingPairs(octx, p.cgroupPatterns) {
		v := pair.Ctx.CurrentUsage
		if p.useAnon {
			v = pair.Ctx.AnonUsage
		}
		if p.debug {
			log.Infof("cgroup %q usage=%d anon=%d", pair.Path.RelativePath(), pair.Ctx.CurrentUsage, pair.Ctx.AnonUsage)
		}
		if v > usage {
			usage = v
			usageCgroup = pair.Path.RelativePath()
		}
	}

	var memtotal int64
	if p.threshold.IsPct {
		meminfo, err := cgroups.GetMeminfo(p.meminfoLocation)
		if err != nil {
			log.Errorf("memory_above read meminfo %s error %v", p.meminfoLocation, err)
			return engine.Stop
		}
		memtotal = meminfo["MemTotal"]
	}
	thresholdBytes := p.threshold.ResolveBytes(memtotal)

	now := p.now()
	if usage < thresholdBytes {
		p.hitThresAt = time.Time{}
		return engine.Stop
	}

	if p.hitThresAt.IsZero() {
		p.hitThresAt = now
	}
	if now.Sub(p.hitThresAt) >= p.duration {
		log.Infof("cgroup %q current memory usage %dMB is over the threshold of %dMB for %v seconds",
			usageCgroup, usage>>20, thresholdBytes>>20, p.duration.Seconds())
		return engine.Continue
	}
	return engine.Stop
}
