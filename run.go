package main

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"gooomd/config"
	"gooomd/engine"
)

// Run 启动守护进程
// 配置编译失败属于启动期错误，直接返回让进程退出
func Run(configPath string, interval time.Duration, cgroupFs string, dry bool, checkOnly bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	cc := engine.ConstructionContext{CgroupFs: cgroupFs, Interval: interval, Dry: dry}
	eng, err := config.Compile(cfg, cc)
	if err != nil {
		return err
	}

	if checkOnly {
		for _, rs := range eng.Rulesets() {
			log.Infof("ruleset %s compiled", rs.Name())
		}
		for pattern := range eng.MonitoredResources() {
			log.Infof("monitoring cgroup pattern %s", pattern.RelativePath())
		}
		log.Infof("config ok")
		return nil
	}

	oomd := NewOomd(eng, interval, cgroupFs)

	// SIGTERM/SIGINT在下一轮tick的边界退出
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	log.Infof("Running gooomd")
	return oomd.Run(stop)
}
