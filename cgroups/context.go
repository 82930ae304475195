package cgroups

import (
	"errors"
	"math"
	"path"
	"sort"

	log "github.com/sirupsen/logrus"
)

// ErrCgroupNotPresent 在OomdContext里查不到指定的cgroup
var ErrCgroupNotPresent = errors.New("cgroup not present")

// ActionContext 记录是哪条规则触发了当前动作，杀掉cgroup时会连同它一起留痕
type ActionContext struct {
	Ruleset       string
	DetectorGroup string
}

// ContextPair 排序辅助用的(路径, 快照)对
type ContextPair struct {
	Path CgroupPath
	Ctx  CgroupContext
}

// OomdContext 一个tick的全量快照，主循环每个tick重建一次
// 平铺的map就够用了，祖先/兄弟关系需要时直接按路径前缀算
type OomdContext struct {
	cgroups map[CgroupPath]CgroupContext
	system  SystemContext
	action  ActionContext
}

func NewOomdContext() *OomdContext {
	return &OomdContext{cgroups: make(map[CgroupPath]CgroupContext)}
}

// HasCgroupContext 是否存着这个cgroup
func (o *OomdContext) HasCgroupContext(p CgroupPath) bool {
	_, ok := o.cgroups[p]
	return ok
}

// GetCgroupContext 取某个cgroup的快照，查不到返回ErrCgroupNotPresent
func (o *OomdContext) GetCgroupContext(p CgroupPath) (CgroupContext, error) {
	ctx, ok := o.cgroups[p]
	if !ok {
		return CgroupContext{}, ErrCgroupNotPresent
	}
	return ctx, nil
}

// SetCgroupContext 存入或替换一个cgroup的快照
func (o *OomdContext) SetCgroupContext(p CgroupPath, ctx CgroupContext) {
	o.cgroups[p] = ctx
}

// Cgroups 返回所有已知的cgroup路径，顺序不保证
func (o *OomdContext) Cgroups() []CgroupPath {
	keys := make([]CgroupPath, 0, len(o.cgroups))
	for k := range o.cgroups {
		keys = append(keys, k)
	}
	return keys
}

// ReverseSort 按getKey取出的标量从大到小排序后返回副本
// getKey为nil时不按key排序，返回按绝对路径排好序的副本
func (o *OomdContext) ReverseSort(getKey func(ctx *CgroupContext) float64) []ContextPair {
	vec := make([]ContextPair, 0, len(o.cgroups))
	// 先按路径排一遍，保证遍历map的随机顺序不会影响结果
	keys := o.Cgroups()
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].AbsolutePath() < keys[j].AbsolutePath()
	})
	for _, k := range keys {
		vec = append(vec, ContextPair{Path: k, Ctx: o.cgroups[k]})
	}
	if getKey != nil {
		ReverseSortPairs(vec, getKey)
	}
	return vec
}

// ReverseSortPairs 原地对vec做从大到小的稳定排序，key相同的保持原有顺序
func ReverseSortPairs(vec []ContextPair, getKey func(ctx *CgroupContext) float64) {
	sort.SliceStable(vec, func(i, j int) bool {
		return getKey(&vec[i].Ctx) > getKey(&vec[j].Ctx)
	})
}

// RemoveSiblingCgroups 只留下相对路径能匹配上任一pattern的条目
// kill类插件先全量排序再用它把自己作用域之外的cgroup剔掉
func RemoveSiblingCgroups(patterns []CgroupPath, vec []ContextPair) []ContextPair {
	out := vec[:0]
	for _, pair := range vec {
		for _, pattern := range patterns {
			ok, err := path.Match(pattern.RelativePath(), pair.Path.RelativePath())
			if err == nil && ok {
				out = append(out, pair)
				break
			}
		}
	}
	return out
}

// ActionContext 当前正在执行动作的规则信息
func (o *OomdContext) ActionContext() ActionContext {
	return o.action
}

func (o *OomdContext) SetActionContext(a ActionContext) {
	o.action = a
}

// SystemContext 系统级swap信息
func (o *OomdContext) SystemContext() SystemContext {
	return o.system
}

func (o *OomdContext) SetSystemContext(s SystemContext) {
	o.system = s
}

// Dump 把快照内容打到日志里
func (o *OomdContext) Dump() {
	DumpOomdContext(o.ReverseSort(nil), false)
}

// DumpOomdContext 打印一组(路径, 快照)
// skipNegligible时把压力不到1%且用量不到千分之一的条目过滤掉，少刷屏
func DumpOomdContext(vec []ContextPair, skipNegligible bool) {
	var memMin, swapMin int64
	if skipNegligible {
		meminfo, err := GetMeminfo(procMeminfo)
		if err == nil {
			memMin = meminfo["MemTotal"] / 1000
			swapMin = meminfo["SwapTotal"] / 1000
		}
	}

	log.Infof("Dumping OomdContext:")
	for _, pair := range vec {
		c := pair.Ctx
		if skipNegligible {
			pressMin := 1.0
			interesting := c.Pressure.MaxAvg() >= pressMin ||
				c.IoPressure.MaxAvg() >= pressMin ||
				c.CurrentUsage > memMin ||
				c.AverageUsage > memMin ||
				c.SwapUsage > swapMin
			if !interesting {
				continue
			}
		}
		log.Infof("name=%s pressure=%.2f:%.2f:%.2f-%.2f:%.2f:%.2f mem=%dMB mem_avg=%dMB mem_low=%dMB swap=%dMB",
			pair.Path.RelativePath(),
			nanToZero(c.Pressure.Avg10), nanToZero(c.Pressure.Avg60), nanToZero(c.Pressure.Avg300),
			nanToZero(c.IoPressure.Avg10), nanToZero(c.IoPressure.Avg60), nanToZero(c.IoPressure.Avg300),
			c.CurrentUsage>>20, c.AverageUsage>>20, c.MemoryLow>>20, c.SwapUsage>>20)
	}
}

func nanToZero(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return v
}
