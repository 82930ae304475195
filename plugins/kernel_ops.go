package plugins

import (
	"golang.org/x/sys/unix"

	"gooomd/cgroups"
)

// KernelOps 把kill插件对内核的副作用收拢到一个接口后面
// 生产环境走真内核，测试用map伪造，这样杀进程和打xattr都能被断言到
type KernelOps interface {
	KillPid(pid int) error
	GetPids(cg cgroups.CgroupPath, recursive bool) ([]int, error)
	GetXattr(path string, attr string) string
	SetXattr(path string, attr string, val string) error
}

// realKernelOps 真实现：SIGKILL走unix.Kill，xattr走cgroups包的shim
type realKernelOps struct{}

func (realKernelOps) KillPid(pid int) error {
	return unix.Kill(pid, unix.SIGKILL)
}

func (realKernelOps) GetPids(cg cgroups.CgroupPath, recursive bool) ([]int, error) {
	return cgroups.GetPids(cg, recursive)
}

func (realKernelOps) GetXattr(path string, attr string) string {
	return cgroups.GetXattr(path, attr)
}

func (realKernelOps) SetXattr(path string, attr string, val string) error {
	return cgroups.SetXattr(path, attr, val)
}
