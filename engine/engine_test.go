package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gooomd/cgroups"
)

// stubPlugin 按脚本返回，记录自己被跑了几次
type stubPlugin struct {
	name string
	rets []PluginRet
	runs int
	seen []cgroups.ActionContext
}

func (s *stubPlugin) Init(resources MonitoredResources, args PluginArgs, cc ConstructionContext) error {
	return nil
}

func (s *stubPlugin) Run(ctx *cgroups.OomdContext) PluginRet {
	s.seen = append(s.seen, ctx.ActionContext())
	ret := s.rets[s.runs%len(s.rets)]
	s.runs++
	return ret
}

func (s *stubPlugin) Name() string { return s.name }

func TestDetectorGroupAllMustContinue(t *testing.T) {
	octx := cgroups.NewOomdContext()

	d1 := &stubPlugin{name: "d1", rets: []PluginRet{Continue}}
	d2 := &stubPlugin{name: "d2", rets: []PluginRet{Stop}}
	d3 := &stubPlugin{name: "d3", rets: []PluginRet{Continue}}

	dg := NewDetectorGroup("group", []Plugin{d1, d2, d3})
	assert.False(t, dg.Check(octx))
	// d2返回STOP之后整组放弃，d3不会被跑
	assert.Equal(t, 1, d1.runs)
	assert.Equal(t, 1, d2.runs)
	assert.Equal(t, 0, d3.runs)

	all := NewDetectorGroup("group", []Plugin{
		&stubPlugin{name: "a", rets: []PluginRet{Continue}},
		&stubPlugin{name: "b", rets: []PluginRet{Continue}},
	})
	assert.True(t, all.Check(octx))
}

func TestRulesetFiresActionChainOnAnyGroup(t *testing.T) {
	octx := cgroups.NewOomdContext()

	miss := NewDetectorGroup("miss", []Plugin{&stubPlugin{name: "m", rets: []PluginRet{Stop}}})
	hit := NewDetectorGroup("hit", []Plugin{&stubPlugin{name: "h", rets: []PluginRet{Continue}}})

	a1 := &stubPlugin{name: "a1", rets: []PluginRet{Continue}}
	a2 := &stubPlugin{name: "a2", rets: []PluginRet{Continue}}

	rs := NewRuleset("rs", []*DetectorGroup{miss, hit}, []Plugin{a1, a2})
	rs.RunOnce(octx)

	assert.Equal(t, 1, a1.runs)
	assert.Equal(t, 1, a2.runs)
	// ActionContext记下了触发动作的那条规则和检测器组
	require.Len(t, a1.seen, 1)
	assert.Equal(t, cgroups.ActionContext{Ruleset: "rs", DetectorGroup: "hit"}, a1.seen[0])
}

func TestRulesetActionStopShortCircuits(t *testing.T) {
	octx := cgroups.NewOomdContext()

	hit := NewDetectorGroup("hit", []Plugin{&stubPlugin{name: "h", rets: []PluginRet{Continue}}})
	a1 := &stubPlugin{name: "a1", rets: []PluginRet{Stop}}
	a2 := &stubPlugin{name: "a2", rets: []PluginRet{Continue}}

	rs := NewRuleset("rs", []*DetectorGroup{hit}, []Plugin{a1, a2})
	rs.RunOnce(octx)

	assert.Equal(t, 1, a1.runs)
	assert.Equal(t, 0, a2.runs)
}

func TestRulesetNoFireNoActions(t *testing.T) {
	octx := cgroups.NewOomdContext()

	miss := NewDetectorGroup("miss", []Plugin{&stubPlugin{name: "m", rets: []PluginRet{Stop}}})
	a1 := &stubPlugin{name: "a1", rets: []PluginRet{Continue}}

	rs := NewRuleset("rs", []*DetectorGroup{miss}, []Plugin{a1})
	rs.RunOnce(octx)
	assert.Equal(t, 0, a1.runs)
}

func TestRulesetAsyncPausedResumesNextTick(t *testing.T) {
	octx := cgroups.NewOomdContext()

	detector := &stubPlugin{name: "d", rets: []PluginRet{Continue}}
	hit := NewDetectorGroup("hit", []Plugin{detector})

	a1 := &stubPlugin{name: "a1", rets: []PluginRet{Continue}}
	// 第一个tick暂停，第二个tick做完
	a2 := &stubPlugin{name: "a2", rets: []PluginRet{AsyncPaused, Continue}}
	a3 := &stubPlugin{name: "a3", rets: []PluginRet{Continue}}

	rs := NewRuleset("rs", []*DetectorGroup{hit}, []Plugin{a1, a2, a3})

	// tick 1: a2暂停，a3不跑
	rs.RunOnce(octx)
	assert.Equal(t, 1, detector.runs)
	assert.Equal(t, 1, a1.runs)
	assert.Equal(t, 1, a2.runs)
	assert.Equal(t, 0, a3.runs)

	// tick 2: 不再过检测器，从a2恢复，a1不会被重放
	rs.RunOnce(octx)
	assert.Equal(t, 1, detector.runs)
	assert.Equal(t, 1, a1.runs)
	assert.Equal(t, 2, a2.runs)
	assert.Equal(t, 1, a3.runs)
	// 恢复时ActionContext还是当初触发的那组
	assert.Equal(t, "hit", a3.seen[0].DetectorGroup)

	// tick 3: 暂停位已清空，重新从检测器开始
	rs.RunOnce(octx)
	assert.Equal(t, 2, detector.runs)
	assert.Equal(t, 2, a1.runs)
}

func TestEngineRunsAllRulesets(t *testing.T) {
	octx := cgroups.NewOomdContext()

	mk := func() (*Ruleset, *stubPlugin) {
		a := &stubPlugin{name: "a", rets: []PluginRet{Continue}}
		dg := NewDetectorGroup("dg", []Plugin{&stubPlugin{name: "d", rets: []PluginRet{Continue}}})
		return NewRuleset("rs", []*DetectorGroup{dg}, []Plugin{a}), a
	}
	rs1, a1 := mk()
	rs2, a2 := mk()

	resources := MonitoredResources{}
	resources.Add(cgroups.NewCgroupPath("/sys/fs/cgroup", "workload"))

	eng := NewEngine(resources, []*Ruleset{rs1, rs2})
	eng.RunOnce(octx)

	assert.Equal(t, 1, a1.runs)
	assert.Equal(t, 1, a2.runs)
	assert.Len(t, eng.MonitoredResources(), 1)
}
