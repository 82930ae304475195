package plugins

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gooomd/cgroups"
	"gooomd/engine"
)

// Threshold 插件配置里的数值阈值
// 百分比形式(如"10%")要等运行时才能换算成字节，所以两种形态都留着
type Threshold struct {
	IsPct bool
	Pct   float64
	Bytes int64
}

// ParseThreshold 解析阈值字符串
// 以%结尾是百分比；M/G后缀分别是MB/GB；不带后缀的裸数字按bareUnit换算
// （memory_above为了兼容老配置把裸数字当MB，其他地方传1按字节算）
func ParseThreshold(s string, bareUnit int64) (Threshold, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Threshold{}, fmt.Errorf("empty threshold")
	}
	if strings.HasSuffix(s, "%") {
		pct, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
		if err != nil {
			return Threshold{}, fmt.Errorf("invalid percent threshold %s", s)
		}
		return Threshold{IsPct: true, Pct: pct}, nil
	}

	mult := bareUnit
	num := s
	switch {
	case strings.HasSuffix(s, "G"):
		mult = 1 << 30
		num = strings.TrimSuffix(s, "G")
	case strings.HasSuffix(s, "M"):
		mult = 1 << 20
		num = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "K"):
		mult = 1 << 10
		num = strings.TrimSuffix(s, "K")
	}
	v, err := strconv.ParseInt(num, 10, 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("invalid threshold %s", s)
	}
	return Threshold{Bytes: v * mult}, nil
}

// ResolveBytes 把阈值换算成字节，total用于百分比形式的基数
func (t Threshold) ResolveBytes(total int64) int64 {
	if t.IsPct {
		return int64(t.Pct / 100 * float64(total))
	}
	return t.Bytes
}

// parseBool 配置里的布尔参数，接受true/True/1
func parseBool(s string) bool {
	return s == "true" || s == "True" || s == "1"
}

// parseCgroupsArg 解析逗号分隔的cgroup参数并登记到监控集合里
func parseCgroupsArg(resources engine.MonitoredResources, args engine.PluginArgs, cc engine.ConstructionContext) ([]cgroups.CgroupPath, error) {
	raw, ok := args["cgroup"]
	if !ok {
		return nil, fmt.Errorf("argument=cgroup not present")
	}
	cgroupFs := cc.CgroupFs
	if v, ok := args["cgroup_fs"]; ok && v != "" {
		cgroupFs = v
	}

	var paths []cgroups.CgroupPath
	for _, c := range strings.Split(raw, ",") {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		p := cgroups.NewCgroupPath(cgroupFs, c)
		resources.Add(p)
		paths = append(paths, p)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("argument=cgroup is empty")
	}
	return paths, nil
}

// parseDuration 秒数参数
func parseDuration(args engine.PluginArgs, key string) (time.Duration, bool, error) {
	raw, ok := args[key]
	if !ok {
		return 0, false, nil
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		return 0, false, fmt.Errorf("argument=%s must be a non-negative integer", key)
	}
	return time.Duration(secs) * time.Second, true, nil
}

// matchingPairs 从快照里挑出归本插件管的cgroup，保持vec已有顺序
func matchingPairs(ctx *cgroups.OomdContext, patterns []cgroups.CgroupPath) []cgroups.ContextPair {
	return cgroups.RemoveSiblingCgroups(patterns, ctx.ReverseSort(nil))
}
