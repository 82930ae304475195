package cgroups

import (
	"fmt"
	"io/ioutil"
	"math"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// cgroup v2各控制文件的文件名
const (
	ControllersFile = "cgroup.controllers"
	ProcsFile       = "cgroup.procs"
	CgroupStatFile  = "cgroup.stat"
	MemCurrentFile  = "memory.current"
	MemPressureFile = "memory.pressure"
	MemLowFile      = "memory.low"
	MemMinFile      = "memory.min"
	MemHighFile     = "memory.high"
	MemHighTmpFile  = "memory.high.tmp"
	MemMaxFile      = "memory.max"
	MemStatFile     = "memory.stat"
	MemSwapCurFile  = "memory.swap.current"
	IoPressureFile  = "io.pressure"
	IoStatFile      = "io.stat"
)

const (
	procMeminfo     = "/proc/meminfo"
	procVmstat      = "/proc/vmstat"
	procMemPressure = "/proc/pressure/memory"
	procIoPressure  = "/proc/pressure/io"
	// 打过实验补丁的老内核把PSI放在这里
	procMemPressureLegacy = "/proc/mempressure"
)

// MaxLimit 控制文件里字面量"max"对应的哨兵值
const MaxLimit = int64(math.MaxInt64)

// BadControlFile 内核控制文件缺失或者格式不对
type BadControlFile struct {
	Path   string
	Reason string
}

func (e *BadControlFile) Error() string {
	return fmt.Sprintf("bad control file %s: %s", e.Path, e.Reason)
}

func badFile(path string, reason string) error {
	return &BadControlFile{Path: path, Reason: reason}
}

// IsBadControlFile 判断err是不是控制文件错误
func IsBadControlFile(err error) bool {
	_, ok := err.(*BadControlFile)
	return ok
}

// PressureType PSI文件里取some行还是full行
type PressureType int

const (
	PressureSome PressureType = iota
	PressureFull
)

func (t PressureType) String() string {
	if t == PressureFull {
		return "full"
	}
	return "some"
}

// DirEnts ReadDir按类型分好的目录项
type DirEnts struct {
	Files []string
	Dirs  []string
}

// ReadDir 列出path下的文件和目录，以.开头的条目不返回
// cgroupfs会在dirent里带上d_type，优先用它来判断类型，拿不到再退回lstat
func ReadDir(dirPath string) DirEnts {
	var de DirEnts
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		return de
	}

	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		// DirEntry.Type来自d_type，避免对每个条目都lstat一次
		t := e.Type()
		if t.IsRegular() {
			de.Files = append(de.Files, name)
			continue
		}
		if t.IsDir() {
			de.Dirs = append(de.Dirs, name)
			continue
		}
		fi, err := os.Lstat(dirPath + "/" + name)
		if err != nil {
			// 目录项可能在枚举期间被删掉了，跳过即可
			continue
		}
		if fi.Mode().IsRegular() {
			de.Files = append(de.Files, name)
		} else if fi.IsDir() {
			de.Dirs = append(de.Dirs, name)
		}
	}
	sort.Strings(de.Files)
	sort.Strings(de.Dirs)
	return de
}

// IsDir path是否是目录
func IsDir(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.IsDir()
}

func hasGlob(s string) bool {
	return strings.ContainsAny(s, "*?[")
}

// ResolveWildcardPath 把带通配符的cgroup路径展开成实际存在的绝对路径集合
// 对路径做DFS，每一段先判断有没有通配字符：没有就直接下降，
// 不用readdir枚举，监控很大的层级时这一步能省掉大量系统调用
func ResolveWildcardPath(cgpath CgroupPath) []string {
	abs := cgpath.AbsolutePath()
	if abs == "" {
		return nil
	}
	parts := splitPath(abs)
	if len(parts) == 0 {
		return nil
	}

	type frame struct {
		prefix string
		idx    int
	}
	resolved := map[string]struct{}{}
	stack := []frame{{prefix: "/", idx: 0}}

	for len(stack) > 0 {
		front := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		// 这一段没有通配符且后面还有路径，直接拼上去下降
		// 就算目录其实不存在也没关系，后面的isDir检查会把它刷掉
		if front.idx < len(parts)-1 && !hasGlob(parts[front.idx]) {
			stack = append(stack, frame{prefix: front.prefix + parts[front.idx] + "/", idx: front.idx + 1})
			continue
		}

		if !IsDir(front.prefix) {
			continue
		}

		de := ReadDir(front.prefix)
		entries := append(de.Dirs, de.Files...)
		for _, entry := range entries {
			ok, err := path.Match(parts[front.idx], entry)
			if err != nil || !ok {
				continue
			}
			if front.idx == len(parts)-1 {
				resolved[front.prefix+entry] = struct{}{}
			} else {
				stack = append(stack, frame{prefix: front.prefix + entry + "/", idx: front.idx + 1})
			}
		}
	}

	out := make([]string, 0, len(resolved))
	for p := range resolved {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func splitPath(p string) []string {
	var parts []string
	for _, seg := range strings.Split(p, "/") {
		if seg != "" {
			parts = append(parts, seg)
		}
	}
	return parts
}

// ReadFileByLine 整个文件按行读出来，空文件返回空切片
func ReadFileByLine(p string) ([]string, error) {
	content, err := ioutil.ReadFile(p)
	if err != nil {
		return nil, badFile(p, "missing file")
	}
	s := strings.TrimSuffix(string(content), "\n")
	if s == "" {
		return nil, nil
	}
	return strings.Split(s, "\n"), nil
}

// ReadControllers 读cgroup.controllers，按空白拆成controller名字
func ReadControllers(cg CgroupPath) ([]string, error) {
	p := cg.AbsolutePath() + "/" + ControllersFile
	lines, err := ReadFileByLine(p)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, nil
	}
	return strings.Fields(lines[0]), nil
}

// GetPids 读出cgroup.procs里的PID，recursive时连子cgroup一起收集
func GetPids(cg CgroupPath, recursive bool) ([]int, error) {
	var pids []int
	abs := cg.AbsolutePath()
	de := ReadDir(abs)

	for _, f := range de.Files {
		if f != ProcsFile {
			continue
		}
		lines, err := ReadFileByLine(abs + "/" + ProcsFile)
		if err != nil {
			return nil, err
		}
		for _, l := range lines {
			pid, err := strconv.Atoi(strings.TrimSpace(l))
			if err != nil {
				return nil, badFile(abs+"/"+ProcsFile, "invalid pid "+l)
			}
			pids = append(pids, pid)
		}
		break
	}

	if recursive {
		for _, d := range de.Dirs {
			childPids, err := GetPids(cg.Descend(d), true)
			if err != nil {
				// 子cgroup可能刚被删掉，忽略
				continue
			}
			pids = append(pids, childPids...)
		}
	}
	return pids, nil
}

// ReadRespressure 解析一个PSI文件，支持两种格式
//
// 上游v4.16+格式:
//
//	some avg10=0.22 avg60=0.17 avg300=1.11 total=58761459
//	full avg10=0.22 avg60=0.16 avg300=1.08 total=58464525
//
// 旧实验格式:
//
//	aggr 316016073
//	some 0.00 0.03 0.05
//	full 0.00 0.03 0.05
//
// 用第一行的首个token区分，不认识的内容报BadControlFile
func ReadRespressure(p string, t PressureType) (ResourcePressure, error) {
	lines, err := ReadFileByLine(p)
	if err != nil {
		return ResourcePressure{}, err
	}
	if len(lines) == 0 {
		return ResourcePressure{}, badFile(p, "missing file")
	}

	lineIdx := 0
	if t == PressureFull {
		lineIdx = 1
	}

	switch {
	case strings.HasPrefix(lines[0], "some") && len(lines) >= 2:
		toks := strings.Fields(lines[lineIdx])
		if len(toks) < 5 || toks[0] != t.String() {
			return ResourcePressure{}, badFile(p, "invalid format")
		}
		var avgs [3]float64
		for i, want := range []string{"avg10", "avg60", "avg300"} {
			kv := strings.SplitN(toks[i+1], "=", 2)
			if len(kv) != 2 || kv[0] != want {
				return ResourcePressure{}, badFile(p, "invalid format")
			}
			v, err := strconv.ParseFloat(kv[1], 64)
			if err != nil {
				return ResourcePressure{}, badFile(p, "invalid format")
			}
			avgs[i] = v
		}
		kv := strings.SplitN(toks[4], "=", 2)
		if len(kv) != 2 || kv[0] != "total" {
			return ResourcePressure{}, badFile(p, "invalid format")
		}
		us, err := strconv.ParseUint(kv[1], 10, 64)
		if err != nil {
			return ResourcePressure{}, badFile(p, "invalid format")
		}
		total := time.Duration(us) * time.Microsecond
		return ResourcePressure{Avg10: avgs[0], Avg60: avgs[1], Avg300: avgs[2], Total: &total}, nil

	case strings.HasPrefix(lines[0], "aggr") && len(lines) >= 3:
		toks := strings.Fields(lines[lineIdx+1])
		if len(toks) < 4 || toks[0] != t.String() {
			return ResourcePressure{}, badFile(p, "invalid format")
		}
		var avgs [3]float64
		for i := 0; i < 3; i++ {
			v, err := strconv.ParseFloat(toks[i+1], 64)
			if err != nil {
				return ResourcePressure{}, badFile(p, "invalid format")
			}
			avgs[i] = v
		}
		// 实验格式没有total
		return ResourcePressure{Avg10: avgs[0], Avg60: avgs[1], Avg300: avgs[2]}, nil
	}

	return ResourcePressure{}, badFile(p, "invalid format")
}

// ReadMemcurrent 当前内存用量
// root cgroup没有memory.current，用meminfo的MemTotal-MemFree代替
func ReadMemcurrent(cg CgroupPath) (int64, error) {
	if cg.IsRoot() {
		meminfo, err := GetMeminfo(procMeminfo)
		if err != nil {
			return 0, err
		}
		return meminfo["MemTotal"] - meminfo["MemFree"], nil
	}
	return readSingleInt(cg, MemCurrentFile)
}

// ReadMemcurrentWildcard 对通配路径下所有匹配到的cgroup求memory.current之和
func ReadMemcurrentWildcard(cg CgroupPath) (int64, error) {
	var total int64
	for _, p := range ResolveWildcardPath(cg) {
		lines, err := ReadFileByLine(p + "/" + MemCurrentFile)
		if err != nil || len(lines) != 1 {
			continue
		}
		v, err := strconv.ParseInt(lines[0], 10, 64)
		if err != nil {
			return 0, badFile(p, "invalid format")
		}
		total += v
	}
	return total, nil
}

// ReadMempressure 内存PSI，root cgroup读/proc下的全局文件
func ReadMempressure(cg CgroupPath, t PressureType) (ResourcePressure, error) {
	if cg.IsRoot() {
		rp, err := ReadRespressure(procMemPressure, t)
		if err != nil {
			return ReadRespressure(procMemPressureLegacy, t)
		}
		return rp, nil
	}
	return ReadRespressure(cg.AbsolutePath()+"/"+MemPressureFile, t)
}

// ReadIopressure IO PSI，老内核没有这个文件，调用方自己决定怎么降级
func ReadIopressure(cg CgroupPath, t PressureType) (ResourcePressure, error) {
	if cg.IsRoot() {
		return ReadRespressure(procIoPressure, t)
	}
	return ReadRespressure(cg.AbsolutePath()+"/"+IoPressureFile, t)
}

func readSingleInt(cg CgroupPath, file string) (int64, error) {
	p := cg.AbsolutePath() + "/" + file
	lines, err := ReadFileByLine(p)
	if err != nil {
		return 0, err
	}
	if len(lines) != 1 {
		return 0, badFile(p, "missing file")
	}
	v, err := strconv.ParseInt(strings.TrimSpace(lines[0]), 10, 64)
	if err != nil {
		return 0, badFile(p, "invalid format")
	}
	return v, nil
}

func readMinMaxLowHigh(cg CgroupPath, file string) (int64, error) {
	p := cg.AbsolutePath() + "/" + file
	lines, err := ReadFileByLine(p)
	if err != nil {
		return 0, err
	}
	if len(lines) != 1 {
		return 0, badFile(p, "missing file")
	}
	if strings.TrimSpace(lines[0]) == "max" {
		return MaxLimit, nil
	}
	v, err := strconv.ParseInt(strings.TrimSpace(lines[0]), 10, 64)
	if err != nil {
		return 0, badFile(p, "invalid format")
	}
	return v, nil
}

func ReadMemlow(cg CgroupPath) (int64, error)  { return readMinMaxLowHigh(cg, MemLowFile) }
func ReadMemmin(cg CgroupPath) (int64, error)  { return readMinMaxLowHigh(cg, MemMinFile) }
func ReadMemhigh(cg CgroupPath) (int64, error) { return readMinMaxLowHigh(cg, MemHighFile) }
func ReadMemmax(cg CgroupPath) (int64, error)  { return readMinMaxLowHigh(cg, MemMaxFile) }

// ReadMemhightmp 读memory.high.tmp，格式是"<value|max> <剩余时间>"两个token
func ReadMemhightmp(cg CgroupPath) (int64, error) {
	p := cg.AbsolutePath() + "/" + MemHighTmpFile
	lines, err := ReadFileByLine(p)
	if err != nil {
		return 0, err
	}
	if len(lines) != 1 {
		return 0, badFile(p, "missing file")
	}
	toks := strings.Fields(lines[0])
	if len(toks) != 2 {
		return 0, badFile(p, "invalid format")
	}
	if toks[0] == "max" {
		return MaxLimit, nil
	}
	v, err := strconv.ParseInt(toks[0], 10, 64)
	if err != nil {
		return 0, badFile(p, "invalid format")
	}
	return v, nil
}

// ReadSwapCurrent 读memory.swap.current
// 内核关掉swap统计(CONFIG_MEMCG_SWAP=n)时这个文件不存在，按0处理而不算错误
func ReadSwapCurrent(cg CgroupPath) (int64, error) {
	p := cg.AbsolutePath() + "/" + MemSwapCurFile
	lines, err := ReadFileByLine(p)
	if err != nil || len(lines) != 1 {
		return 0, nil
	}
	v, err := strconv.ParseInt(strings.TrimSpace(lines[0]), 10, 64)
	if err != nil {
		return 0, badFile(p, "invalid format")
	}
	return v, nil
}

func writeControlFile(p string, val string) error {
	f, err := os.OpenFile(p, os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return badFile(p, fmt.Sprintf("open failed: %v", err))
	}
	defer f.Close()
	if _, err := f.WriteString(val); err != nil {
		return badFile(p, fmt.Sprintf("write failed: %v", err))
	}
	return nil
}

// WriteMemhigh 写memory.high，MaxLimit哨兵会写成字面量"max"
func WriteMemhigh(cg CgroupPath, v int64) error {
	val := "max"
	if v != MaxLimit {
		val = strconv.FormatInt(v, 10)
	}
	return writeControlFile(cg.AbsolutePath()+"/"+MemHighFile, val)
}

// WriteMemhightmp 写memory.high.tmp，内容是"value 持续微秒数"
func WriteMemhightmp(cg CgroupPath, v int64, duration time.Duration) error {
	val := "max"
	if v != MaxLimit {
		val = strconv.FormatInt(v, 10)
	}
	val = val + " " + strconv.FormatInt(duration.Microseconds(), 10)
	return writeControlFile(cg.AbsolutePath()+"/"+MemHighTmpFile, val)
}

// GetMeminfo 解析/proc/meminfo，内核给的单位是kB，这里统一换算成字节
func GetMeminfo(p string) (map[string]int64, error) {
	lines, err := ReadFileByLine(p)
	if err != nil {
		return nil, err
	}
	m := make(map[string]int64, len(lines))
	for _, line := range lines {
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		key := line[:idx]
		fields := strings.Fields(line[idx+1:])
		if len(fields) == 0 {
			continue
		}
		v, err := strconv.ParseInt(fields[0], 10, 64)
		if err != nil {
			continue
		}
		m[key] = v * 1024
	}
	return m, nil
}

// GetVmstat 解析/proc/vmstat，"名字 值"一行一对
func GetVmstat(p string) (map[string]int64, error) {
	return getMemstatLike(p)
}

func getMemstatLike(p string) (map[string]int64, error) {
	lines, err := ReadFileByLine(p)
	if err != nil {
		return nil, err
	}
	m := make(map[string]int64, len(lines))
	for _, line := range lines {
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		v, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			continue
		}
		m[fields[0]] = v
	}
	return m, nil
}

// GetMemstat 解析memory.stat
func GetMemstat(cg CgroupPath) (map[string]int64, error) {
	return getMemstatLike(cg.AbsolutePath() + "/" + MemStatFile)
}

// ReadIostat 解析io.stat
// 格式: 0:0 rbytes=0 wbytes=0 rios=0 wios=0 dbytes=0 dios=0
func ReadIostat(cg CgroupPath) (IOStat, error) {
	p := cg.AbsolutePath() + "/" + IoStatFile
	lines, err := ReadFileByLine(p)
	if err != nil {
		return nil, err
	}
	stat := make(IOStat, 0, len(lines))
	for _, line := range lines {
		toks := strings.Fields(line)
		if len(toks) != 7 {
			return nil, badFile(p, "invalid format")
		}
		dev := DeviceIOStat{DevID: toks[0]}
		dst := map[string]*int64{
			"rbytes": &dev.Rbytes, "wbytes": &dev.Wbytes,
			"rios": &dev.Rios, "wios": &dev.Wios,
			"dbytes": &dev.Dbytes, "dios": &dev.Dios,
		}
		for _, tok := range toks[1:] {
			kv := strings.SplitN(tok, "=", 2)
			if len(kv) != 2 {
				return nil, badFile(p, "invalid format")
			}
			field, ok := dst[kv[0]]
			if !ok {
				return nil, badFile(p, "invalid format")
			}
			v, err := strconv.ParseInt(kv[1], 10, 64)
			if err != nil {
				return nil, badFile(p, "invalid format")
			}
			*field = v
		}
		stat = append(stat, dev)
	}
	return stat, nil
}

// GetNrDyingDescendants 读cgroup.stat的nr_dying_descendants，文件或字段缺失按0算
func GetNrDyingDescendants(cg CgroupPath) int64 {
	m, err := getMemstatLike(cg.AbsolutePath() + "/" + CgroupStatFile)
	if err != nil {
		return 0
	}
	return m["nr_dying_descendants"]
}

// SetXattr 给cgroup目录打扩展属性，失败由调用方决定要不要继续
func SetXattr(p string, attr string, val string) error {
	return unix.Setxattr(p, attr, []byte(val), 0)
}

// GetXattr 读扩展属性，不存在返回""
func GetXattr(p string, attr string) string {
	sz, err := unix.Getxattr(p, attr, nil)
	if err != nil || sz <= 0 {
		return ""
	}
	buf := make([]byte, sz)
	n, err := unix.Getxattr(p, attr, buf)
	if err != nil || n <= 0 {
		return ""
	}
	return string(buf[:n])
}

// IsUnderParentPath path是否在parent的子树里（按路径段比较）
func IsUnderParentPath(parent string, p string) bool {
	if parent == "" || p == "" {
		return false
	}
	parentParts := splitPath(parent)
	pathParts := splitPath(p)
	if len(pathParts) < len(parentParts) {
		return false
	}
	for i, part := range parentParts {
		if pathParts[i] != part {
			return false
		}
	}
	return true
}

// GetCgroup2MountPoint 从/proc/mounts里找cgroup2的挂载点，找不到返回""
func GetCgroup2MountPoint(mountsPath string) string {
	lines, err := ReadFileByLine(mountsPath)
	if err != nil {
		return ""
	}
	for _, line := range lines {
		parts := strings.Fields(line)
		if len(parts) > 2 && parts[2] == "cgroup2" {
			return parts[1]
		}
	}
	return ""
}
