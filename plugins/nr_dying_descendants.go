package plugins

import (
	"fmt"
	"strconv"

	log "github.com/sirupsen/logrus"

	"gooomd/cgroups"
	"gooomd/engine"
)

func init() {
	Register("nr_dying_descendants", KindDetector, func() engine.Plugin {
		return &NrDyingDescendants{}
	})
}

// NrDyingDescendants 检测器：僵死后代cgroup数量的比较
// lte=true时判nr<=count，否则判nr>count，任一配置的cgroup满足即命中
type NrDyingDescendants struct {
	cgroupPatterns []cgroups.CgroupPath
	count          int64
	lte            bool
	debug          bool
}

func (p *NrDyingDescendants) Name() string {
	return "nr_dying_descendants"
}

func (p *NrDyingDescendants) Init(resources engine.MonitoredResources, args engine.PluginArgs, cc engine.ConstructionContext) error {
	paths, err := parseCgroupsArg(resources, args, cc)
	if err != nil {
		return err
	}
	p.cgroupPatterns = paths

	raw, ok := args["count"]
	if !ok {
		return fmt.Errorf("argument=count not present")
	}
	count, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || count < 0 {
		return fmt.Errorf("argument=count must be a non-negative integer")
	}
	p.count = count

	if raw, ok := args["lte"]; ok {
		p.lte = parseBool(raw)
	}
	p.debug = parseBool(args["debug"])
	return nil
}

func (p *NrDyingDescendants) Run(octx *cgroups.OomdContext) engine.PluginRet {
	for _, pair := range matchingPairs(octx, p.cgroupPatterns) {
		nr := pair.Ctx.NrDyingDescendants
		if (p.lte && nr <= p.count) || (!p.lte && nr > p.count) {
			if p.debug {
				op := ">"
				if p.lte {
					op = "<="
				}
				log.Infof("cgroup=%s nr_dying_descendants=%d %s count=%d", pair.Path.RelativePath(), nr, op, p.count)
			}
			return engine.Continue
		}
	}
	return engine.Stop
}
