package main

import (
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"gooomd/cgroups"
)

const defaultCgroupFs = "/sys/fs/cgroup"

// run命令：常驻的监控主循环
var runCommand = cli.Command{
	Name:  "run",
	Usage: "Run the remediation daemon: gooomd run --config /etc/gooomd.json",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "config",
			Usage: "ruleset config file",
			Value: "/etc/gooomd.json",
		},
		cli.IntFlag{
			Name:  "interval",
			Usage: "tick interval in seconds",
			Value: 5,
		},
		cli.StringFlag{
			Name:  "cgroup-fs",
			Usage: "cgroup2 mount point, autodetected from /proc/mounts when empty",
		},
		cli.BoolFlag{
			Name:  "dry",
			Usage: "force dry-run on every kill plugin",
		},
		cli.BoolFlag{
			Name:  "check-config",
			Usage: "compile the config, log the ruleset names and monitored cgroup patterns, and exit",
		},
	},
	/* run命令真正做的事情
	1. 读配置并编译出引擎
	2. check-config模式下打印规则名和监控的cgroup模式就退出
	3. 否则进入采样-评估-休眠的主循环
	*/
	Action: func(context *cli.Context) error {
		cgroupFs := context.String("cgroup-fs")
		if cgroupFs == "" {
			cgroupFs = cgroups.GetCgroup2MountPoint("/proc/mounts")
		}
		if cgroupFs == "" {
			cgroupFs = defaultCgroupFs
		}
		interval := time.Duration(context.Int("interval")) * time.Second
		if interval <= 0 {
			return fmt.Errorf("interval must be positive")
		}
		log.Infof("cgroup fs: %s interval: %v", cgroupFs, interval)
		return Run(context.String("config"), interval, cgroupFs, context.Bool("dry"), context.Bool("check-config"))
	},
}

// dump命令：按配置采一次样，把快照打成表格，调配置的时候用
var dumpCommand = cli.Command{
	Name:  "dump",
	Usage: "sample the monitored cgroups once and print the context",
	Flags: []cli.Flag{
		cli.StringFlag{
			Name:  "config",
			Usage: "ruleset config file",
			Value: "/etc/gooomd.json",
		},
		cli.StringFlag{
			Name:  "cgroup-fs",
			Usage: "cgroup2 mount point",
			Value: defaultCgroupFs,
		},
	},
	Action: func(context *cli.Context) error {
		return DumpContext(context.String("config"), context.String("cgroup-fs"))
	},
}
