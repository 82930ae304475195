package main

import (
	"fmt"
	"math"
	"os"
	"text/tabwriter"
	"time"

	log "github.com/sirupsen/logrus"

	"gooomd/cgroups"
	"gooomd/config"
	"gooomd/engine"
)

// DumpContext 按配置采一次样，把监控到的cgroup打成表格
func DumpContext(configPath string, cgroupFs string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cc := engine.ConstructionContext{CgroupFs: cgroupFs, Interval: 5 * time.Second, Dry: true}
	eng, err := config.Compile(cfg, cc)
	if err != nil {
		return err
	}

	oomd := NewOomd(eng, cc.Interval, cgroupFs)
	ctx := oomd.updateContext(nil)

	// 使用tabwriter在控制台打印对齐的表格
	w := tabwriter.NewWriter(os.Stdout, 12, 1, 3, ' ', 0)
	fmt.Fprint(w, "CGROUP\tMEM\tAVG\tSWAP\tANON\tPRESSURE\tIO-PRESSURE\tDYING\n")
	for _, pair := range ctx.ReverseSort(func(c *cgroups.CgroupContext) float64 {
		return float64(c.CurrentUsage)
	}) {
		c := pair.Ctx
		fmt.Fprintf(w, "%s\t%dMB\t%dMB\t%dMB\t%dMB\t%s\t%s\t%d\n",
			pair.Path.RelativePath(),
			c.CurrentUsage>>20,
			c.AverageUsage>>20,
			c.SwapUsage>>20,
			c.AnonUsage>>20,
			formatPressure(c.Pressure),
			formatPressure(c.IoPressure),
			c.NrDyingDescendants)
	}
	if err := w.Flush(); err != nil {
		log.Errorf("Flush error %v", err)
		return err
	}

	sys := ctx.SystemContext()
	fmt.Fprintf(os.Stdout, "swap: used=%dMB total=%dMB\n", sys.SwapUsed>>20, sys.SwapTotal>>20)
	return nil
}

func formatPressure(p cgroups.ResourcePressure) string {
	if math.IsNaN(p.Avg10) {
		return "-"
	}
	return fmt.Sprintf("%.2f:%.2f:%.2f", p.Avg10, p.Avg60, p.Avg300)
}
