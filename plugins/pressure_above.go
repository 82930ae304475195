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
	Register("pressure_above", KindDetector, func() engine.Plugin {
		return &PressureAbove{now: time.Now}
	})
}

// PressureAbove 检测器：某个cgroup的PSI持续超过阈值
// 取avg10/avg60/avg300里最大的和阈值比，首次越线的时间按cgroup各记各的，
// 连续保持duration之后才算命中
type PressureAbove struct {
	cgroupPatterns []cgroups.CgroupPath
	resource       string // memory或io
	threshold      float64
	duration       time.Duration

	hitThresAt map[cgroups.CgroupPath]time.Time
	now        func() time.Time
}

func (p *PressureAbove) Name() string {
	return "pressure_above"
}

func (p *PressureAbove) Init(resources engine.MonitoredResources, args engine.PluginArgs, cc engine.ConstructionContext) error {
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

	p.hitThresAt = make(map[cgroups.CgroupPath]time.Time)
	return nil
}

func (p *PressureAbove) pick(ctx *cgroups.CgroupContext) cgroups.ResourcePressure {
	if p.resource == "io" {
		return ctx.IoPressure
	}
	return ctx.Pressure
}

func (p *PressureAbove) Run(octx *cgroups.OomdContext) engine.PluginRet {
	now := p.now()
	fired := false

	for _, pair := range matchingPairs(octx, p.cgroupPatterns) {
		pressure := p.pick(&pair.Ctx)
		m := pressure.MaxAvg()

		if !(m >= p.threshold) { // NaN也会走这个分支
			delete(p.hitThresAt, pair.Path)
			continue
		}

		first, ok := p.hitThresAt[pair.Path]
		if !ok {
			first = now
			p.hitThresAt[pair.Path] = first
		}
		if now.Sub(first) >= p.duration {
			log.Infof("%s pressure %.2f is over the threshold of %.2f for %v seconds on cgroup %s",
				p.resource, m, p.threshold, p.duration.Seconds(), pair.Path.RelativePath())
			fired = true
		}
	}

	if fired {
		return engine.Continue
	}
	return engine.Stop
}
