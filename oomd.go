package main

import (
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"gooomd/cgroups"
	"gooomd/engine"
)

const (
	pgscanSwap   = "pgscan_kswapd"
	pgscanDirect = "pgscan_direct"
	// average_usage指数平滑的衰减常数D，公式是prev*(D-1)/D + current/D
	averageSizeDecay = 4.0
)

// Oomd 主循环：采样→评估→睡掉剩下的间隔
// 单线程按tick推进，一个tick内的上下文对引擎来说是不可变的整体
type Oomd struct {
	engine   *engine.Engine
	interval time.Duration
	cgroupFs string

	meminfoPath string
	vmstatPath  string

	warnedIoPressure bool
}

func NewOomd(eng *engine.Engine, interval time.Duration, cgroupFs string) *Oomd {
	return &Oomd{
		engine:      eng,
		interval:    interval,
		cgroupFs:    cgroupFs,
		meminfoPath: "/proc/meminfo",
		vmstatPath:  "/proc/vmstat",
	}
}

// Run 一直跑到收到退出信号为止
func (o *Oomd) Run(stop <-chan os.Signal) error {
	var ctx *cgroups.OomdContext

	for {
		before := time.Now()

		newCtx := o.updateContext(ctx)
		for pattern := range o.engine.MonitoredResources() {
			o.dumpCgroupOverview(pattern)
		}

		o.engine.RunOnce(newCtx)
		ctx = newCtx

		// 前面可能已经耗掉一些时间，睡剩下的部分
		toSleep := o.interval - time.Since(before)
		if toSleep < 0 {
			toSleep = 0
		}
		select {
		case sig := <-stop:
			log.Infof("Received signal %v, exiting", sig)
			return nil
		case <-time.After(toSleep):
		}
	}
}

// updateContext 重建一个tick的快照
// 只有average_usage和io开销速率需要跟上个tick比，按key从旧快照里捞
func (o *Oomd) updateContext(prev *cgroups.OomdContext) *cgroups.OomdContext {
	newCtx := cgroups.NewOomdContext()

	for pattern := range o.engine.MonitoredResources() {
		for _, abs := range cgroups.ResolveWildcardPath(pattern) {
			if !cgroups.IsDir(abs) {
				continue
			}
			cg := cgroups.NewCgroupPath(o.cgroupFs, strings.TrimPrefix(abs, o.cgroupFs))
			o.sampleInto(newCtx, cg)
			// 非通配的资源一般配的是父cgroup，把孩子也一起采进来
			for _, child := range cgroups.ReadDir(abs).Dirs {
				o.sampleInto(newCtx, cg.Descend(child))
			}
		}
	}

	// 算滑动平均和io开销速率
	for _, key := range newCtx.Cgroups() {
		c, err := newCtx.GetCgroupContext(key)
		if err != nil {
			continue
		}
		var prevAvg float64
		var prevCost int64
		hasPrev := false
		if prev != nil && prev.HasCgroupContext(key) {
			p, err := prev.GetCgroupContext(key)
			if err == nil {
				prevAvg = float64(p.AverageUsage)
				prevCost = p.IoCostCumulative
				hasPrev = true
			}
		}
		c.AverageUsage = int64(prevAvg*((averageSizeDecay-1)/averageSizeDecay) +
			float64(c.CurrentUsage)/averageSizeDecay)
		if hasPrev && o.interval > 0 {
			c.IoCostRate = float64(c.IoCostCumulative-prevCost) / o.interval.Seconds()
		}
		newCtx.SetCgroupContext(key, c)
	}

	// 系统级swap状态
	if meminfo, err := cgroups.GetMeminfo(o.meminfoPath); err == nil {
		total := uint64(meminfo["SwapTotal"])
		free := uint64(meminfo["SwapFree"])
		newCtx.SetSystemContext(cgroups.SystemContext{SwapTotal: total, SwapUsed: total - free})
	}

	return newCtx
}

// sampleInto 给一个cgroup填快照
// memory控制器没开属于致命配置错误，没有它什么都做不了，直接退出进程
// 采样窗口里被删掉的cgroup不算错误，静默跳过
func (o *Oomd) sampleInto(ctx *cgroups.OomdContext, cg cgroups.CgroupPath) {
	controllers, err := cgroups.ReadControllers(cg)
	if err != nil {
		if !cgroups.IsDir(cg.AbsolutePath()) {
			return
		}
		log.Fatalf("FATAL: cannot read cgroup.controllers on %s: %v", cg.AbsolutePath(), err)
	}
	hasMemory := false
	for _, c := range controllers {
		if c == "memory" {
			hasMemory = true
			break
		}
	}
	if !hasMemory {
		log.Fatalf("FATAL: cgroup memory controller not enabled on %s", cg.AbsolutePath())
	}

	current, err := cgroups.ReadMemcurrent(cg)
	if err != nil {
		log.Warnf("Sample %s memory.current error %v", cg.RelativePath(), err)
		return
	}
	pressure, err := cgroups.ReadMempressure(cg, cgroups.PressureSome)
	if err != nil {
		log.Warnf("Sample %s memory.pressure error %v", cg.RelativePath(), err)
		return
	}

	// 老内核没有io.pressure，用NaN占位
	ioPressure, err := cgroups.ReadIopressure(cg, cgroups.PressureSome)
	if err != nil {
		if !o.warnedIoPressure {
			o.warnedIoPressure = true
			log.Warnf("IO pressure unavailable: %v", err)
		}
		ioPressure = cgroups.NewUnavailablePressure()
	}

	memLow, _ := cgroups.ReadMemlow(cg)
	memMin, _ := cgroups.ReadMemmin(cg)
	memHigh, err := cgroups.ReadMemhigh(cg)
	if err != nil {
		memHigh = cgroups.MaxLimit
	}
	memMax, err := cgroups.ReadMemmax(cg)
	if err != nil {
		memMax = cgroups.MaxLimit
	}
	swap, _ := cgroups.ReadSwapCurrent(cg)

	var anon, file, shmem int64
	if memstat, err := cgroups.GetMemstat(cg); err == nil {
		anon = memstat["anon"]
		file = memstat["file"]
		shmem = memstat["shmem"]
	}

	var ioCost int64
	if iostat, err := cgroups.ReadIostat(cg); err == nil {
		for _, dev := range iostat {
			ioCost += dev.Rbytes + dev.Wbytes + dev.Dbytes
		}
	}

	// 内核生效的低内存保护量，不会超过实际用量
	protection := memLow
	if memMin > protection {
		protection = memMin
	}
	if protection > current {
		protection = current
	}

	ctx.SetCgroupContext(cg, cgroups.CgroupContext{
		Pressure:           pressure,
		IoPressure:         ioPressure,
		CurrentUsage:       current,
		MemoryLow:          memLow,
		MemoryMin:          memMin,
		MemoryHigh:         memHigh,
		MemoryMax:          memMax,
		SwapUsage:          swap,
		AnonUsage:          anon,
		FileUsage:          file,
		ShmemUsage:         shmem,
		NrDyingDescendants: cgroups.GetNrDyingDescendants(cg),
		IoCostCumulative:   ioCost,
		MemoryProtection:   protection,
	})
}

// dumpCgroupOverview 每tick给每个监控目标打一行概况
func (o *Oomd) dumpCgroupOverview(pattern cgroups.CgroupPath) {
	current, err := cgroups.ReadMemcurrentWildcard(pattern)
	if err != nil {
		return
	}

	var swapFree, swapTotal int64
	if meminfo, err := cgroups.GetMeminfo(o.meminfoPath); err == nil {
		swapFree = meminfo["SwapFree"]
		swapTotal = meminfo["SwapTotal"]
	}
	var pgscan int64
	if vmstat, err := cgroups.GetVmstat(o.vmstatPath); err == nil {
		pgscan = vmstat[pgscanSwap] + vmstat[pgscanDirect]
	}

	log.Infof("cgroup=%s total=%dMB swapfree=%dMB/%dMB pgscan=%d",
		pattern.RelativePath(), current>>20, swapFree>>20, swapTotal>>20, pgscan)
}
