package cgroups

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testFs = "/sys/fs/cgroup"

func TestOomdContextGetSet(t *testing.T) {
	octx := NewOomdContext()
	p := NewCgroupPath(testFs, "workload/job1")

	_, err := octx.GetCgroupContext(p)
	assert.ErrorIs(t, err, ErrCgroupNotPresent)
	assert.False(t, octx.HasCgroupContext(p))

	octx.SetCgroupContext(p, CgroupContext{CurrentUsage: 42})
	require.True(t, octx.HasCgroupContext(p))
	c, err := octx.GetCgroupContext(p)
	require.NoError(t, err)
	assert.Equal(t, int64(42), c.CurrentUsage)

	// 重复set是替换
	octx.SetCgroupContext(p, CgroupContext{CurrentUsage: 7})
	c, _ = octx.GetCgroupContext(p)
	assert.Equal(t, int64(7), c.CurrentUsage)
	assert.Len(t, octx.Cgroups(), 1)
}

func TestReverseSort(t *testing.T) {
	octx := NewOomdContext()
	octx.SetCgroupContext(NewCgroupPath(testFs, "small"), CgroupContext{CurrentUsage: 10})
	octx.SetCgroupContext(NewCgroupPath(testFs, "big"), CgroupContext{CurrentUsage: 100})
	octx.SetCgroupContext(NewCgroupPath(testFs, "mid"), CgroupContext{CurrentUsage: 50})

	sorted := octx.ReverseSort(func(c *CgroupContext) float64 { return float64(c.CurrentUsage) })
	require.Len(t, sorted, 3)
	assert.Equal(t, "big", sorted[0].Path.RelativePath())
	assert.Equal(t, "mid", sorted[1].Path.RelativePath())
	assert.Equal(t, "small", sorted[2].Path.RelativePath())
}

func TestReverseSortStableOnTies(t *testing.T) {
	octx := NewOomdContext()
	for _, name := range []string{"a", "b", "c", "d"} {
		octx.SetCgroupContext(NewCgroupPath(testFs, name), CgroupContext{CurrentUsage: 5})
	}
	// key全相等时保持快照向量的既有顺序(按路径)，跑多少遍都一样
	first := octx.ReverseSort(func(c *CgroupContext) float64 { return float64(c.CurrentUsage) })
	for i := 0; i < 10; i++ {
		again := octx.ReverseSort(func(c *CgroupContext) float64 { return float64(c.CurrentUsage) })
		assert.Equal(t, first, again)
	}
}

func TestRemoveSiblingCgroups(t *testing.T) {
	octx := NewOomdContext()
	octx.SetCgroupContext(NewCgroupPath(testFs, "one_big/cgroup1"), CgroupContext{CurrentUsage: 3})
	octx.SetCgroupContext(NewCgroupPath(testFs, "one_big/cgroup2"), CgroupContext{CurrentUsage: 2})
	octx.SetCgroupContext(NewCgroupPath(testFs, "sibling"), CgroupContext{CurrentUsage: 99})

	sorted := octx.ReverseSort(func(c *CgroupContext) float64 { return float64(c.CurrentUsage) })
	kept := RemoveSiblingCgroups([]CgroupPath{NewCgroupPath(testFs, "one_big/*")}, sorted)

	require.Len(t, kept, 2)
	// 作用域外的条目被剔掉，剩下的保持排序
	assert.Equal(t, "one_big/cgroup1", kept[0].Path.RelativePath())
	assert.Equal(t, "one_big/cgroup2", kept[1].Path.RelativePath())
}

func TestRemoveSiblingCgroupsExactNames(t *testing.T) {
	octx := NewOomdContext()
	octx.SetCgroupContext(NewCgroupPath(testFs, "cgroup_C"), CgroupContext{})
	octx.SetCgroupContext(NewCgroupPath(testFs, "cgroup_D"), CgroupContext{})

	patterns := []CgroupPath{
		NewCgroupPath(testFs, "cgroup_A"),
		NewCgroupPath(testFs, "cgroup_C"),
	}
	kept := RemoveSiblingCgroups(patterns, octx.ReverseSort(nil))
	require.Len(t, kept, 1)
	assert.Equal(t, "cgroup_C", kept[0].Path.RelativePath())
}

func TestEffectiveUsage(t *testing.T) {
	c := CgroupContext{CurrentUsage: 1000, MemoryProtection: 200}
	// 没被adjust过时scale按1算
	assert.Equal(t, int64(800), c.EffectiveUsage())

	c.MemoryScale = 2.0
	c.MemoryAdj = -100
	assert.Equal(t, int64(1700), c.EffectiveUsage())
}

func TestActionContext(t *testing.T) {
	octx := NewOomdContext()
	octx.SetActionContext(ActionContext{Ruleset: "rs", DetectorGroup: "dg"})
	assert.Equal(t, "rs", octx.ActionContext().Ruleset)
	assert.Equal(t, "dg", octx.ActionContext().DetectorGroup)
}

func TestSystemContext(t *testing.T) {
	octx := NewOomdContext()
	octx.SetSystemContext(SystemContext{SwapTotal: 100, SwapUsed: 30})
	assert.Equal(t, uint64(100), octx.SystemContext().SwapTotal)
	assert.Equal(t, uint64(30), octx.SystemContext().SwapUsed)
}
