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
	Register("swap_free", KindDetector, func() engine.Plugin {
		return &SwapFree{now: time.Now}
	})
}

// SwapFree 检测器：剩余swap占比持续低于阈值
// 没配swap(swaptotal==0)的机器上永远不命中
type SwapFree struct {
	thresholdPct float64
	duration     time.Duration

	hitThresAt time.Time
	now        func() time.Time
}

func (p *SwapFree) Name() string {
	return "swap_free"
}

func (p *SwapFree) Init(resources engine.MonitoredResources, args engine.PluginArgs, cc engine.ConstructionContext) error {
	raw, ok := args["threshold_pct"]
	if !ok {
		return fmt.Errorf("argument=threshold_pct not present")
	}
	pct, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("argument=threshold_pct invalid: %v", err)
	}
	p.thresholdPct = pct

	// duration可以不给，默认立即生效
	d, _, err := parseDuration(args, "duration")
	if err != nil {
		return err
	}
	p.duration = d
	return nil
}

func (p *SwapFree) Run(octx *cgroups.OomdContext) engine.PluginRet {
	sys := octx.SystemContext()
	if sys.SwapTotal == 0 {
		return engine.Stop
	}

	freePct := float64(sys.SwapTotal-sys.SwapUsed) / float64(sys.SwapTotal) * 100
	now := p.now()

	if freePct > p.thresholdPct {
		p.hitThresAt = time.Time{}
		return engine.Stop
	}

	if p.hitThresAt.IsZero() {
		p.hitThresAt = now
	}
	if now.Sub(p.hitThresAt) >= p.duration {
		log.Infof("SwapFree %dMB is %.2f%% of total %dMB, below the threshold of %.2f%%",
			(sys.SwapTotal-sys.SwapUsed)>>20, freePct, sys.SwapTotal>>20, p.thresholdPct)
		return engine.Continue
	}
	return engine.Stop
}
