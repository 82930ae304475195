package main

import (
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"
	"os"
)

const usage = `gooomd is a userspace out-of-memory killer for cgroup v2 hosts.
It watches PSI and memory statistics of configured cgroups and takes corrective
action before the kernel OOM killer has to.`

func main() {
	app := cli.NewApp()
	app.Name = "gooomd"
	app.Usage = usage

	// 定义基本命令
	app.Commands = []cli.Command{
		runCommand,
		dumpCommand,
	}

	// 初始化日志配置，失败不会执行命令
	app.Before = func(context *cli.Context) error {
		log.SetFormatter(&log.JSONFormatter{})
		log.SetOutput(os.Stdout)
		return nil
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
