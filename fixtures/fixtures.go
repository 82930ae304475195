// Package fixtures 在磁盘上搭假的cgroup树，给各个包的测试用
// 内容都是字符串，想构造哪种内核行为就往文件里塞对应格式的内容
package fixtures

import (
	"fmt"
	"io/ioutil"
	"os"
	"sort"
	"strings"
)

// Cgroup 一个假cgroup目录：控制文件内容加子cgroup
type Cgroup struct {
	Files    map[string]string
	Children map[string]*Cgroup
}

// Default 带一套能让采样跑通的默认控制文件
func Default() *Cgroup {
	return &Cgroup{
		Files: map[string]string{
			"cgroup.controllers":  "cpuset cpu io memory pids",
			"cgroup.procs":        "",
			"cgroup.stat":         "nr_descendants 0\nnr_dying_descendants 0",
			"memory.current":      "0",
			"memory.low":          "0",
			"memory.min":          "0",
			"memory.high":         "max",
			"memory.max":          "max",
			"memory.swap.current": "0",
			"memory.stat":         "anon 0\nfile 0\nshmem 0\npgscan 0",
			"memory.pressure":     UpstreamPSI(0, 0, 0, 0, 0, 0, 0, 0),
			"io.pressure":         UpstreamPSI(0, 0, 0, 0, 0, 0, 0, 0),
			"io.stat":             "1:10 rbytes=0 wbytes=0 rios=0 wios=0 dbytes=0 dios=0",
		},
		Children: map[string]*Cgroup{},
	}
}

// Set 改一个控制文件的内容，方便链式写
func (c *Cgroup) Set(file string, content string) *Cgroup {
	c.Files[file] = content
	return c
}

// AddChild 挂一个子cgroup
func (c *Cgroup) AddChild(name string, child *Cgroup) *Cgroup {
	c.Children[name] = child
	return c
}

// Materialize 把整棵树落到dir下
func Materialize(dir string, cg *Cgroup) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	for name, content := range cg.Files {
		if err := ioutil.WriteFile(dir+"/"+name, []byte(content), 0644); err != nil {
			return err
		}
	}
	// 按名字顺序建子目录，让测试结果可复现
	names := make([]string, 0, len(cg.Children))
	for name := range cg.Children {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := Materialize(dir+"/"+name, cg.Children[name]); err != nil {
			return err
		}
	}
	return nil
}

// UpstreamPSI 上游内核格式的PSI文件内容
func UpstreamPSI(s10, s60, s300 float64, sTotal uint64, f10, f60, f300 float64, fTotal uint64) string {
	return fmt.Sprintf("some avg10=%.2f avg60=%.2f avg300=%.2f total=%d\nfull avg10=%.2f avg60=%.2f avg300=%.2f total=%d",
		s10, s60, s300, sTotal, f10, f60, f300, fTotal)
}

// ExperimentalPSI 老实验格式的PSI文件内容
func ExperimentalPSI(aggr uint64, s10, s60, s300, f10, f60, f300 float64) string {
	return fmt.Sprintf("aggr %d\nsome %.2f %.2f %.2f\nfull %.2f %.2f %.2f",
		aggr, s10, s60, s300, f10, f60, f300)
}

// Meminfo 按/proc/meminfo的格式拼内容，值的单位是字节，写出去换算成kB
func Meminfo(kv map[string]int64, order []string) string {
	var sb strings.Builder
	for _, k := range order {
		fmt.Fprintf(&sb, "%s:       %d kB\n", k, kv[k]/1024)
	}
	return sb.String()
}

// WriteFile 往路径写一个普通文件，目录不存在就建出来
func WriteFile(path string, content string) error {
	idx := strings.LastIndex(path, "/")
	if idx > 0 {
		if err := os.MkdirAll(path[:idx], 0755); err != nil {
			return err
		}
	}
	return ioutil.WriteFile(path, []byte(content), 0644)
}
