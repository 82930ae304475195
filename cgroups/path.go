package cgroups

import (
	"path"
	"strings"
)

// CgroupPath 表示cgroup在统一层级(v2)中的位置
// 由cgroup文件系统挂载点和相对路径两部分组成，relative为""时表示root cgroup
// 字段都是string，值本身可以直接作为map的key使用
type CgroupPath struct {
	cgroupFs string
	relative string
}

// NewCgroupPath 构造CgroupPath，顺便把路径规整一下
// 比如 "./workload.slice/" 会被规整成 "workload.slice"
func NewCgroupPath(cgroupFs string, relative string) CgroupPath {
	fs := strings.TrimRight(cgroupFs, "/")
	if fs == "" {
		fs = "/"
	}
	rel := strings.Trim(relative, "/")
	rel = strings.TrimPrefix(rel, "./")
	return CgroupPath{cgroupFs: fs, relative: rel}
}

// AbsolutePath 返回在文件系统上的绝对路径
func (c CgroupPath) AbsolutePath() string {
	if c.relative == "" {
		return c.cgroupFs
	}
	return c.cgroupFs + "/" + c.relative
}

// RelativePath 返回相对cgroup挂载点的路径，root cgroup返回""
func (c CgroupPath) RelativePath() string {
	return c.relative
}

// Name 返回路径最后一段的名字
func (c CgroupPath) Name() string {
	if c.relative == "" {
		return ""
	}
	return path.Base(c.relative)
}

func (c CgroupPath) CgroupFs() string {
	return c.cgroupFs
}

// Ascend 返回上一级cgroup，对root调用是幂等的
func (c CgroupPath) Ascend() CgroupPath {
	if c.IsRoot() {
		return c
	}
	idx := strings.LastIndex(c.relative, "/")
	if idx < 0 {
		return CgroupPath{cgroupFs: c.cgroupFs, relative: ""}
	}
	return CgroupPath{cgroupFs: c.cgroupFs, relative: c.relative[:idx]}
}

// Descend 下降到名为child的子cgroup
func (c CgroupPath) Descend(child string) CgroupPath {
	child = strings.Trim(child, "/")
	if c.relative == "" {
		return CgroupPath{cgroupFs: c.cgroupFs, relative: child}
	}
	return CgroupPath{cgroupFs: c.cgroupFs, relative: c.relative + "/" + child}
}

// IsRoot 是否表示root cgroup
func (c CgroupPath) IsRoot() bool {
	return c.relative == ""
}

// HasGlob 路径里是否含有通配字符，只可能误报不会漏报，用于快速判断
func (c CgroupPath) HasGlob() bool {
	return strings.ContainsAny(c.relative, "*?[")
}
