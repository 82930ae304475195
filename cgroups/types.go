package cgroups

import (
	"math"
	"time"
)

// ResourcePressure 对应PSI文件里一行的三个滑动平均值
// 取值范围[0, 100]，NaN表示内核没有提供这项数据（比如老内核没有io.pressure）
// Total是累计stall时长，实验格式的PSI文件没有这个字段，此时为nil
type ResourcePressure struct {
	Avg10  float64
	Avg60  float64
	Avg300 float64
	Total  *time.Duration
}

// NewUnavailablePressure 构造一个表示"数据不可用"的压力值
func NewUnavailablePressure() ResourcePressure {
	nan := math.NaN()
	return ResourcePressure{Avg10: nan, Avg60: nan, Avg300: nan}
}

// MaxAvg 返回三个窗口里最大的平均值，NaN的窗口不参与比较
func (r ResourcePressure) MaxAvg() float64 {
	max := math.NaN()
	for _, v := range []float64{r.Avg10, r.Avg60, r.Avg300} {
		if math.IsNaN(v) {
			continue
		}
		if math.IsNaN(max) || v > max {
			max = v
		}
	}
	return max
}

// DeviceIOStat 是io.stat里一个设备的一行
type DeviceIOStat struct {
	DevID  string
	Rbytes int64
	Wbytes int64
	Rios   int64
	Wios   int64
	Dbytes int64
	Dios   int64
}

// IOStat io.stat的全部内容
type IOStat []DeviceIOStat

// CgroupContext 是某个cgroup在一个tick里的快照
type CgroupContext struct {
	Pressure           ResourcePressure // memory PSI some行
	IoPressure         ResourcePressure // io PSI some行
	CurrentUsage       int64            // memory.current
	AverageUsage       int64            // CurrentUsage跨tick的指数平滑值
	MemoryLow          int64
	MemoryMin          int64
	MemoryHigh         int64
	MemoryMax          int64
	SwapUsage          int64
	AnonUsage          int64 // memory.stat里的anon
	FileUsage          int64
	ShmemUsage         int64
	NrDyingDescendants int64
	IoCostCumulative   int64
	IoCostRate         float64
	MemoryProtection   int64 // 内核生效的低内存保护量

	// adjust_cgroup插件在tick内改写的修正项，只影响EffectiveUsage
	MemoryScale float64
	MemoryAdj   int64
}

// EffectiveUsage 计算去掉保护量之后的有效内存用量
// 公式: current_usage * scale - memory_protection + adj
func (c *CgroupContext) EffectiveUsage() int64 {
	scale := c.MemoryScale
	if scale == 0 {
		scale = 1.0
	}
	return int64(float64(c.CurrentUsage)*scale) - c.MemoryProtection + c.MemoryAdj
}

// SystemContext 系统级的swap状态，来自/proc/meminfo
type SystemContext struct {
	SwapTotal uint64
	SwapUsed  uint64
}
