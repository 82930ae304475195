package plugins

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"gooomd/cgroups"
	"gooomd/engine"
)

// 杀掉cgroup之后打在它目录上的扩展属性
const (
	OomsXattr     = "trusted.oomd_ooms"      // 被oomd杀过几次
	KillXattr     = "trusted.oomd_kill"      // 累计杀掉的进程数
	KillUuidXattr = "trusted.oomd_kill_uuid" // 最近一次kill的UUID
)

const defaultPostActionDelay = 15 * time.Second

// BaseKill 各kill插件共用的选杀和执行逻辑
// 具体插件只决定排序key和候选判定，其余都走这里
type BaseKill struct {
	pluginName     string
	cgroupPatterns []cgroups.CgroupPath
	cgroupFs       string
	recursive      bool
	dry            bool

	postActionDelay time.Duration
	cooldownUntil   time.Time

	ops   KernelOps
	now   func() time.Time
	sleep func(time.Duration)
}

func newBaseKill(name string) BaseKill {
	return BaseKill{
		pluginName:      name,
		postActionDelay: defaultPostActionDelay,
		ops:             realKernelOps{},
		now:             time.Now,
		sleep:           time.Sleep,
	}
}

func (b *BaseKill) Name() string {
	return b.pluginName
}

// initArgs 解析kill插件共有的参数
func (b *BaseKill) initArgs(resources engine.MonitoredResources, args engine.PluginArgs, cc engine.ConstructionContext) error {
	paths, err := parseCgroupsArg(resources, args, cc)
	if err != nil {
		return err
	}
	b.cgroupPatterns = paths
	b.cgroupFs = cc.CgroupFs
	if v, ok := args["cgroup_fs"]; ok && v != "" {
		b.cgroupFs = v
	}

	if raw, ok := args["post_action_delay"]; ok {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs < 0 {
			return fmt.Errorf("argument=post_action_delay must be non-negative")
		}
		b.postActionDelay = time.Duration(secs) * time.Second
	}

	b.recursive = parseBool(args["recursive"])
	b.dry = parseBool(args["dry"]) || cc.Dry
	return nil
}

// runKill 一次完整的选杀流程
// getKey决定候选顺序，admit决定某个候选够不够格，admit为nil表示谁在前杀谁
// 杀成功后进入post_action_delay冷却，冷却期内返回ASYNC_PAUSED占住动作链，
// 让被杀的workload有时间真正退出，不要急着挑下一个受害者
func (b *BaseKill) runKill(octx *cgroups.OomdContext,
	getKey func(ctx *cgroups.CgroupContext) float64,
	admit func(pair *cgroups.ContextPair, all []cgroups.ContextPair) bool) engine.PluginRet {

	if b.now().Before(b.cooldownUntil) {
		return engine.AsyncPaused
	}

	sorted := octx.ReverseSort(getKey)
	sorted = cgroups.RemoveSiblingCgroups(b.cgroupPatterns, sorted)

	for i := range sorted {
		pair := &sorted[i]
		if admit != nil && !admit(pair, sorted) {
			continue
		}
		log.Infof("Picked %q (%dMB) by plugin %s", pair.Path.RelativePath(), pair.Ctx.CurrentUsage>>20, b.pluginName)
		if b.tryToKillCgroup(pair.Path, octx) {
			b.logKill(pair, octx.ActionContext())
			b.cooldownUntil = b.now().Add(b.postActionDelay)
			return engine.Stop
		}
	}
	return engine.Continue
}

// tryToKillCgroup 对一个cgroup子树发SIGKILL
// cgroup.procs要反复读，杀了一批之后可能又fork出新的，直到杀不出新进程为止
func (b *BaseKill) tryToKillCgroup(cg cgroups.CgroupPath, octx *cgroups.OomdContext) bool {
	killUuid := uuid.New().String()

	pids, err := b.ops.GetPids(cg, b.recursive)
	if err != nil {
		log.Errorf("Get pids for %s error %v", cg.AbsolutePath(), err)
		return false
	}
	if len(pids) == 0 {
		log.Infof("No processes to kill in %s", cg.AbsolutePath())
		return false
	}

	if b.dry {
		log.Infof("In dry-run mode; would have tried to kill %s", cg.AbsolutePath())
		b.reportToXattr(cg, 0, killUuid)
		return true
	}

	nrKilled := 0
	lastNrKilled := 0
	for tries := 10; tries > 0; tries-- {
		pids, err := b.ops.GetPids(cg, b.recursive)
		if err != nil {
			break
		}
		for _, pid := range pids {
			if err := b.ops.KillPid(pid); err != nil {
				log.Errorf("Failed to kill pid %d error %v", pid, err)
				continue
			}
			log.Infof("Killed pid %d", pid)
			nrKilled++
		}
		if nrKilled == lastNrKilled {
			break
		}
		lastNrKilled = nrKilled
		// 歇一下再补刀
		b.sleep(time.Second)
	}

	b.reportToXattr(cg, nrKilled, killUuid)
	return nrKilled > 0
}

// reportToXattr 在受害cgroup目录上留审计痕迹
// oomd_ooms每次加1，oomd_kill累加杀掉的进程数，uuid直接覆盖
func (b *BaseKill) reportToXattr(cg cgroups.CgroupPath, nrKilled int, killUuid string) {
	abs := cg.AbsolutePath()

	prevOoms, _ := strconv.Atoi(zeroIfEmpty(b.ops.GetXattr(abs, OomsXattr)))
	if err := b.ops.SetXattr(abs, OomsXattr, strconv.Itoa(prevOoms+1)); err != nil {
		log.Errorf("Set xattr %s on %s error %v", OomsXattr, abs, err)
	}

	prevKills, _ := strconv.Atoi(zeroIfEmpty(b.ops.GetXattr(abs, KillXattr)))
	if err := b.ops.SetXattr(abs, KillXattr, strconv.Itoa(prevKills+nrKilled)); err != nil {
		log.Errorf("Set xattr %s on %s error %v", KillXattr, abs, err)
	}

	if err := b.ops.SetXattr(abs, KillUuidXattr, killUuid); err != nil {
		log.Errorf("Set xattr %s on %s error %v", KillUuidXattr, abs, err)
	}
	log.Infof("Set kill xattrs ooms=%d kills=%d uuid=%s on %s", prevOoms+1, prevKills+nrKilled, killUuid, abs)
}

func (b *BaseKill) logKill(pair *cgroups.ContextPair, action cgroups.ActionContext) {
	dryTag := ""
	if b.dry {
		dryTag = "(dry)"
	}
	log.Infof("oomd kill: %.2f %.2f %.2f %s %d ruleset:%s detectorgroup:%s killer:%s%s",
		pair.Ctx.Pressure.Avg10, pair.Ctx.Pressure.Avg60, pair.Ctx.Pressure.Avg300,
		pair.Path.RelativePath(), pair.Ctx.CurrentUsage,
		action.Ruleset, action.DetectorGroup, dryTag, b.pluginName)
}

func zeroIfEmpty(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
