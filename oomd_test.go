package main

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gooomd/cgroups"
	"gooomd/engine"
	"gooomd/fixtures"
)

func makeOomd(t *testing.T, cgroupFs string, patterns ...string) *Oomd {
	t.Helper()
	resources := engine.MonitoredResources{}
	for _, p := range patterns {
		resources.Add(cgroups.NewCgroupPath(cgroupFs, p))
	}
	eng := engine.NewEngine(resources, nil)
	o := NewOomd(eng, 5*time.Second, cgroupFs)

	// 测试里meminfo/vmstat也用fixture
	meminfo := cgroupFs + "/meminfo"
	require.NoError(t, fixtures.WriteFile(meminfo, fixtures.Meminfo(map[string]int64{
		"MemTotal":  16 << 30,
		"MemFree":   8 << 30,
		"SwapTotal": 100 << 20,
		"SwapFree":  75 << 20,
	}, []string{"MemTotal", "MemFree", "SwapTotal", "SwapFree"})))
	o.meminfoPath = meminfo

	vmstat := cgroupFs + "/vmstat"
	require.NoError(t, fixtures.WriteFile(vmstat, "pgscan_kswapd 10\npgscan_direct 2\n"))
	o.vmstatPath = vmstat
	return o
}

func workloadTree(current1, current2 int64) *fixtures.Cgroup {
	parent := fixtures.Default()
	child1 := fixtures.Default()
	child1.Set("memory.current", formatInt(current1))
	child1.Set("memory.low", "1048576")
	child2 := fixtures.Default()
	child2.Set("memory.current", formatInt(current2))
	parent.AddChild("job1", child1)
	parent.AddChild("job2", child2)
	return parent
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}

func TestUpdateContextSamplesParentAndChildren(t *testing.T) {
	cgroupFs := t.TempDir()
	require.NoError(t, fixtures.Materialize(cgroupFs+"/workload", workloadTree(400<<20, 100<<20)))

	o := makeOomd(t, cgroupFs, "workload")
	ctx := o.updateContext(nil)

	// 父cgroup和两个孩子都被采进来了
	assert.True(t, ctx.HasCgroupContext(cgroups.NewCgroupPath(cgroupFs, "workload")))
	job1, err := ctx.GetCgroupContext(cgroups.NewCgroupPath(cgroupFs, "workload/job1"))
	require.NoError(t, err)
	assert.Equal(t, int64(400<<20), job1.CurrentUsage)
	// memory.low生效成保护量（不超过用量）
	assert.Equal(t, int64(1048576), job1.MemoryProtection)

	job2, err := ctx.GetCgroupContext(cgroups.NewCgroupPath(cgroupFs, "workload/job2"))
	require.NoError(t, err)
	assert.Equal(t, int64(100<<20), job2.CurrentUsage)

	// 系统swap状态来自meminfo
	sys := ctx.SystemContext()
	assert.Equal(t, uint64(100<<20), sys.SwapTotal)
	assert.Equal(t, uint64(25<<20), sys.SwapUsed)
}

func TestUpdateContextAverageUsageSmoothing(t *testing.T) {
	cgroupFs := t.TempDir()
	require.NoError(t, fixtures.Materialize(cgroupFs+"/workload", workloadTree(400<<20, 100<<20)))

	o := makeOomd(t, cgroupFs, "workload/*")
	cg := cgroups.NewCgroupPath(cgroupFs, "workload/job1")

	// 第一个tick没有历史，avg = current/D
	ctx := o.updateContext(nil)
	c, err := ctx.GetCgroupContext(cg)
	require.NoError(t, err)
	assert.Equal(t, int64(100<<20), c.AverageUsage)

	// 之后每个tick: avg = prev*3/4 + current/4
	ctx = o.updateContext(ctx)
	c, err = ctx.GetCgroupContext(cg)
	require.NoError(t, err)
	assert.Equal(t, int64(175<<20), c.AverageUsage)

	ctx = o.updateContext(ctx)
	c, _ = ctx.GetCgroupContext(cg)
	assert.InDelta(t, float64(231.25*float64(1<<20)), float64(c.AverageUsage), 2)

	// average永远非负且被current拉着走
	assert.GreaterOrEqual(t, c.AverageUsage, int64(0))
	assert.LessOrEqual(t, c.AverageUsage, int64(400<<20))
}

func TestUpdateContextIoCostRate(t *testing.T) {
	cgroupFs := t.TempDir()
	tree := fixtures.Default()
	tree.Set("io.stat", "1:10 rbytes=1000 wbytes=500 rios=1 wios=1 dbytes=0 dios=0")
	require.NoError(t, fixtures.Materialize(cgroupFs+"/workload", tree))

	o := makeOomd(t, cgroupFs, "workload")
	cg := cgroups.NewCgroupPath(cgroupFs, "workload")

	ctx := o.updateContext(nil)
	c, err := ctx.GetCgroupContext(cg)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), c.IoCostCumulative)
	// 第一个tick没有前值，速率是0
	assert.Equal(t, 0.0, c.IoCostRate)

	tree.Set("io.stat", "1:10 rbytes=6000 wbytes=1500 rios=1 wios=1 dbytes=0 dios=0")
	require.NoError(t, fixtures.Materialize(cgroupFs+"/workload", tree))

	ctx = o.updateContext(ctx)
	c, _ = ctx.GetCgroupContext(cg)
	assert.Equal(t, int64(7500), c.IoCostCumulative)
	// (7500-1500) / 5s
	assert.Equal(t, 1200.0, c.IoCostRate)
}

func TestUpdateContextSkipsVanishedCgroup(t *testing.T) {
	cgroupFs := t.TempDir()
	require.NoError(t, fixtures.Materialize(cgroupFs+"/workload", fixtures.Default()))

	// 模式匹配不到任何目录时安静地得到空快照
	o := makeOomd(t, cgroupFs, "gone/*")
	ctx := o.updateContext(nil)
	assert.Empty(t, ctx.Cgroups())
}

func TestUpdateContextExperimentalPsi(t *testing.T) {
	cgroupFs := t.TempDir()
	tree := fixtures.Default()
	tree.Set("memory.pressure", fixtures.ExperimentalPSI(316016073, 0.5, 0.3, 0.1, 0.9, 0.8, 0.7))
	require.NoError(t, fixtures.Materialize(cgroupFs+"/workload", tree))

	o := makeOomd(t, cgroupFs, "workload")
	ctx := o.updateContext(nil)

	c, err := ctx.GetCgroupContext(cgroups.NewCgroupPath(cgroupFs, "workload"))
	require.NoError(t, err)
	assert.Equal(t, 0.5, c.Pressure.Avg10)
	assert.Nil(t, c.Pressure.Total)
}
