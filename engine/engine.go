package engine

import (
	log "github.com/sirupsen/logrus"

	"gooomd/cgroups"
)

// DetectorGroup 一组检测器，组内是AND关系：全部CONTINUE才算命中
type DetectorGroup struct {
	name      string
	detectors []Plugin
}

func NewDetectorGroup(name string, detectors []Plugin) *DetectorGroup {
	return &DetectorGroup{name: name, detectors: detectors}
}

func (d *DetectorGroup) Name() string {
	return d.name
}

// Check 按声明顺序跑检测器，有一个STOP就放弃整组
func (d *DetectorGroup) Check(ctx *cgroups.OomdContext) bool {
	for _, det := range d.detectors {
		ret := det.Run(ctx)
		log.Debugf("Detector=%s returned %v", det.Name(), ret)
		if ret != Continue {
			return false
		}
	}
	return true
}

// Ruleset 一条规则：若干检测器组(OR关系)守着一个动作组
// pausedIdx记录动作组里停在哪个位置，跨tick保留
type Ruleset struct {
	name           string
	detectorGroups []*DetectorGroup
	actionGroup    []Plugin

	pausedIdx   int
	pausedGroup string // 暂停时触发动作的检测器组名，恢复时还原ActionContext
}

func NewRuleset(name string, detectorGroups []*DetectorGroup, actionGroup []Plugin) *Ruleset {
	return &Ruleset{
		name:           name,
		detectorGroups: detectorGroups,
		actionGroup:    actionGroup,
		pausedIdx:      -1,
	}
}

func (r *Ruleset) Name() string {
	return r.name
}

// RunOnce 每个tick执行一次
// 上个tick有动作返回ASYNC_PAUSED的话，不再过检测器，直接从暂停点继续
func (r *Ruleset) RunOnce(ctx *cgroups.OomdContext) {
	if r.pausedIdx >= 0 {
		log.Infof("Ruleset=%s resuming action chain at index %d", r.name, r.pausedIdx)
		ctx.SetActionContext(cgroups.ActionContext{Ruleset: r.name, DetectorGroup: r.pausedGroup})
		r.runActions(ctx, r.pausedIdx)
		return
	}

	fired := ""
	for _, dg := range r.detectorGroups {
		if dg.Check(ctx) {
			log.Infof("DetectorGroup=%s has fired for Ruleset=%s. Running action chain.", dg.Name(), r.name)
			fired = dg.Name()
			break
		}
	}
	if fired == "" {
		return
	}

	ctx.SetActionContext(cgroups.ActionContext{Ruleset: r.name, DetectorGroup: fired})
	r.pausedGroup = fired
	r.runActions(ctx, 0)
}

func (r *Ruleset) runActions(ctx *cgroups.OomdContext, start int) {
	r.pausedIdx = -1
	for i := start; i < len(r.actionGroup); i++ {
		action := r.actionGroup[i]
		ret := action.Run(ctx)
		log.Infof("Action=%s returned %v", action.Name(), ret)

		switch ret {
		case Continue:
			continue
		case AsyncPaused:
			// 动作没做完，记下位置，下个tick从这里恢复
			r.pausedIdx = i
			return
		case Stop:
			return
		}
	}
}

// Engine 持有编译好的全部规则，每tick按声明顺序跑一遍
type Engine struct {
	resources MonitoredResources
	rulesets  []*Ruleset
}

func NewEngine(resources MonitoredResources, rulesets []*Ruleset) *Engine {
	return &Engine{resources: resources, rulesets: rulesets}
}

// RunOnce 跑一遍所有规则
func (e *Engine) RunOnce(ctx *cgroups.OomdContext) {
	for _, rs := range e.rulesets {
		rs.RunOnce(ctx)
	}
}

// MonitoredResources 所有插件登记的cgroup模式并集，主循环用它决定采样范围
func (e *Engine) MonitoredResources() MonitoredResources {
	return e.resources
}

// Rulesets 只给check-config打印用
func (e *Engine) Rulesets() []*Ruleset {
	return e.rulesets
}
