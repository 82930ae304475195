package plugins

import (
	"fmt"
	"math"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"

	"gooomd/cgroups"
	"gooomd/engine"
)

func init() {
	Register("senpai", KindAction, func() engine.Plugin {
		return &Senpai{}
	})
}

// senpaiState 每个目标cgroup各自维护的控制器状态
type senpaiState struct {
	limit      int64
	lastTotal  *time.Duration
	hasHighTmp *bool // nil表示还没探测过
}

// Senpai 动作：主动回收控制器
// 不断下压memory.high，让内核维持住一点点可控的内存压力，把冷页挤出去
// 压力落在目标区间下方就继续收紧，超出上方就放松，区间内保持不动
// 这是个常驻的稳态控制器，每个tick都返回CONTINUE
type Senpai struct {
	cgroupPatterns    []cgroups.CgroupPath
	limitMinBytes     int64
	maxProbe          float64
	maxBackoff        float64
	pressureTargetMin float64
	pressureTargetMax float64
	interval          time.Duration

	states map[cgroups.CgroupPath]*senpaiState
}

func (p *Senpai) Name() string {
	return "senpai"
}

func (p *Senpai) Init(resources engine.MonitoredResources, args engine.PluginArgs, cc engine.ConstructionContext) error {
	paths, err := parseCgroupsArg(resources, args, cc)
	if err != nil {
		return err
	}
	p.cgroupPatterns = paths

	p.limitMinBytes = 100 << 20
	if raw, ok := args["limit_min_bytes"]; ok {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			return fmt.Errorf("argument=limit_min_bytes invalid")
		}
		p.limitMinBytes = v
	}

	p.maxProbe = 0.01
	if raw, ok := args["max_probe"]; ok {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 || v >= 1 {
			return fmt.Errorf("argument=max_probe must be in (0, 1)")
		}
		p.maxProbe = v
	}

	p.maxBackoff = 1.0
	if raw, ok := args["max_backoff"]; ok {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v <= 0 {
			return fmt.Errorf("argument=max_backoff invalid")
		}
		p.maxBackoff = v
	}

	p.pressureTargetMin = 0.001
	if raw, ok := args["pressure_target_min"]; ok {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 {
			return fmt.Errorf("argument=pressure_target_min invalid")
		}
		p.pressureTargetMin = v
	}

	p.pressureTargetMax = 0.01
	if raw, ok := args["pressure_target_max"]; ok {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < p.pressureTargetMin {
			return fmt.Errorf("argument=pressure_target_max invalid")
		}
		p.pressureTargetMax = v
	}

	p.interval = cc.Interval
	if p.interval <= 0 {
		p.interval = 5 * time.Second
	}
	p.states = make(map[cgroups.CgroupPath]*senpaiState)
	return nil
}

func (p *Senpai) Run(octx *cgroups.OomdContext) engine.PluginRet {
	for _, pair := range matchingPairs(octx, p.cgroupPatterns) {
		p.runOnTarget(pair.Path, &pair.Ctx)
	}
	return engine.Continue
}

func (p *Senpai) runOnTarget(cg cgroups.CgroupPath, c *cgroups.CgroupContext) {
	// 限制的下限：内核保证的memory.min和配置下限取大者
	floor := p.limitMinBytes
	if c.MemoryMin > floor {
		floor = c.MemoryMin
	}

	state, ok := p.states[cg]
	if !ok {
		// 第一次见到这个cgroup，从当前的memory.high起步
		// memory.high还是max的话就从当前用量起步
		limit := c.MemoryHigh
		if limit == cgroups.MaxLimit {
			limit = c.CurrentUsage
		}
		if limit < floor {
			limit = floor
		}
		state = &senpaiState{limit: limit, lastTotal: c.Pressure.Total}
		p.states[cg] = state
		p.applyLimit(cg, state)
		return
	}

	rate := p.pressureRate(c, state)
	state.lastTotal = c.Pressure.Total

	switch {
	case rate < p.pressureTargetMin:
		// 压力不够，继续收紧
		state.limit = int64(float64(state.limit) * (1 - p.maxProbe))
		if state.limit < floor {
			state.limit = floor
		}
	case rate > p.pressureTargetMax:
		// 压力过头了，往回放
		raised := float64(state.limit) * (1 + p.maxBackoff)
		if raised >= float64(cgroups.MaxLimit) || (c.MemoryMax != cgroups.MaxLimit && raised > float64(c.MemoryMax)) {
			state.limit = c.MemoryMax
		} else {
			state.limit = int64(raised)
		}
	default:
		// 正好在目标区间里，保持
	}

	p.applyLimit(cg, state)
}

// pressureRate 由累计stall时长的增量折算出这个tick里的压力占比[0,1]
func (p *Senpai) pressureRate(c *cgroups.CgroupContext, state *senpaiState) float64 {
	if c.Pressure.Total == nil || state.lastTotal == nil {
		// 实验格式的PSI没有total，退而用avg10估一个
		if math.IsNaN(c.Pressure.Avg10) {
			return 0
		}
		return c.Pressure.Avg10 / 100
	}
	delta := *c.Pressure.Total - *state.lastTotal
	if delta < 0 {
		return 0
	}
	return float64(delta) / float64(p.interval)
}

// applyLimit 把算好的限制写回内核
// 支持memory.high.tmp就优先用它，memory.high保持原值不动；不支持再写memory.high
func (p *Senpai) applyLimit(cg cgroups.CgroupPath, state *senpaiState) {
	if state.hasHighTmp == nil {
		_, err := cgroups.ReadMemhightmp(cg)
		supported := err == nil
		state.hasHighTmp = &supported
	}

	var err error
	if *state.hasHighTmp {
		err = cgroups.WriteMemhightmp(cg, state.limit, 2*p.interval)
	} else {
		err = cgroups.WriteMemhigh(cg, state.limit)
	}
	if err != nil {
		log.Errorf("senpai write limit %d to %s error %v", state.limit, cg.RelativePath(), err)
		return
	}
	log.Debugf("senpai cgroup=%s limit=%dMB", cg.RelativePath(), state.limit>>20)
}
