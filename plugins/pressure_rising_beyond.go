package plugins

import (
	"fmt"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"gooomd/cgroups"
	"gooomd/engine"
)

func init() {
	Register("pressure_rising_beyond", KindDetector, func() engine.Plugin {
		return &PressureRisingBeyond{now: time.Now}
	})
}

// PressureRisingBeyond 检测器：压力超阈值且没有在快速回落
// 在pressure_above的基础上多一个条件：本次avg10相比上次没有跌破
// fast_fall_ratio比例，压力已经在快速下降时就别再追着触发了，抑制振荡
type PressureRisingBeyond struct {
	cgroupPatterns []cgroups.CgroupPath
	resource       string
	threshold      float64
	duration       time.Duration
	fastFallRatio  float64

	hitThresAt   map[cgroups.CgroupPath]time.Time
	lastPressure map[cgroups.CgroupPath]cgroups.ResourcePressure
	now          func() time.Time
}

func (p *PressureRisingBeyond) Name() string {
	return "pressure_rising_beyond"
}

func (p *PressureRisingBeyond) Init(resources engine.MonitoredResources, args engine.PluginArgs, cc engine.ConstructionContext) error {
	paths, err := parseCgroupsArg(resources, args, cc)
	if err != nil {
		return err
	}
	p.cgroupPatterns = paths

	res, ok := args["resource"]
	if !ok || (res != "memory" && res != "io") {
		return fmt.Errorf("argument=resource missing or not (io|memory)")
	}
	p.resource = res

	raw, ok := args["threshold"]
	if !ok {
		return fmt.Errorf("argument=threshold not present")
	}
	thres, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("argument=threshold invalid: %v", err)
	}
	p.threshold = thres

	d, ok, err := parseDuration(args, "duration")
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("argument=duration not present")
	}
	p.duration = d

	// fast_fall_ratio可以不给
	p.fastFallRatio = 0.85
	if raw, ok := args["fast_fall_ratio"]; ok {
		ratio, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return fmt.Errorf("argument=fast_fall_ratio invalid: %v", err)
		}
		p.fastFallRatio = ratio
	}

	p.hitThresAt = make(map[cgroups.CgroupPath]time.Time)
	p.lastPressure = make(map[cgroups.CgroupPath]cgroups.ResourcePressure)
	return nil
}

func (p *PressureRisingBeyond) pick(ctx *cgroups.CgroupContext) cgroups.ResourcePressure {
	if p.resource == "io" {
		return ctx.IoPressure
	}
	return ctx.Pressure
}

func (p *PressureRisingBeyond) Run(octx *cgroups.OomdContext) engine.PluginRet {
	now := p.now()
	fired := false

	for _, pair := range matchingPairs(octx, p.cgroupPatterns) {
		pressure := p.pick(&pair.Ctx)
		last, hasLast := p.lastPressure[pair.Path]
		p.lastPressure[pair.Path] = pressure

		m := pressure.MaxAvg()
		if !(m >= p.threshold) {
			delete(p.hitThresAt, pair.Path)
			continue
		}

		first, ok := p.hitThresAt[pair.Path]
		if !ok {
			first = now
			p.hitThresAt[pair.Path] = first
		}
		if now.Sub(first) < p.duration {
			continue
		}

		fallingRapidly := hasLast && pressure.Avg10 < last.Avg10*p.fastFallRatio
		if fallingRapidly {
			continue
		}

		log.Infof("%s pressure %.2f is over the threshold of %.2f for %v seconds and not falling rapidly on cgroup %s",
			p.resource, m, p.threshold, p.duration.Seconds(), pair.Path.RelativePath())
		fired = true
	}

	if fired {
		return engine.Continue
	}
	return engine.Stop
}
