package plugins

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gooomd/cgroups"
	"gooomd/engine"
)

func TestAdjustCgroup(t *testing.T) {
	p := &AdjustCgroup{}
	require.NoError(t, p.Init(engine.MonitoredResources{}, engine.PluginArgs{
		"cgroup":       "workload",
		"memory_scale": "0.5",
		"memory":       "-100M",
	}, testCC))

	octx := cgroups.NewOomdContext()
	target := cgroups.NewCgroupPath(testFs, "workload")
	other := cgroups.NewCgroupPath(testFs, "other")
	octx.SetCgroupContext(target, cgroups.CgroupContext{CurrentUsage: 1 << 30})
	octx.SetCgroupContext(other, cgroups.CgroupContext{CurrentUsage: 1 << 30})

	assert.Equal(t, engine.Continue, p.Run(octx))

	// 目标的有效用量被改写: 1G*0.5 - 0 - 100M
	c, err := octx.GetCgroupContext(target)
	require.NoError(t, err)
	assert.Equal(t, int64(512<<20)-int64(100<<20), c.EffectiveUsage())

	// 别的cgroup不受影响
	o, err := octx.GetCgroupContext(other)
	require.NoError(t, err)
	assert.Equal(t, int64(1<<30), o.EffectiveUsage())
}

func TestAdjustCgroupPositiveAdj(t *testing.T) {
	p := &AdjustCgroup{}
	require.NoError(t, p.Init(engine.MonitoredResources{}, engine.PluginArgs{
		"cgroup": "workload",
		"memory": "64M",
	}, testCC))

	octx := cgroups.NewOomdContext()
	target := cgroups.NewCgroupPath(testFs, "workload")
	octx.SetCgroupContext(target, cgroups.CgroupContext{CurrentUsage: 100 << 20, MemoryProtection: 10 << 20})

	require.Equal(t, engine.Continue, p.Run(octx))
	c, _ := octx.GetCgroupContext(target)
	assert.Equal(t, int64((100-10+64)<<20), c.EffectiveUsage())
}
