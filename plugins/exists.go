package plugins

import (
	"gooomd/cgroups"
	"gooomd/engine"
)

func init() {
	Register("exists", KindDetector, func() engine.Plugin {
		return &Exists{}
	})
}

// Exists 检测器：配置的cgroup在快照里出现过就命中，negate取反
type Exists struct {
	cgroupPatterns []cgroups.CgroupPath
	negate         bool
}

func (p *Exists) Name() string {
	return "exists"
}

func (p *Exists) Init(resources engine.MonitoredResources, args engine.PluginArgs, cc engine.ConstructionContext) error {
	paths, err := parseCgroupsArg(resources, args, cc)
	if err != nil {
		return err
	}
	p.cgroupPatterns = paths
	p.negate = parseBool(args["negate"])
	return nil
}

func (p *Exists) Run(octx *cgroups.OomdContext) engine.PluginRet {
	present := len(matchingPairs(octx, p.cgroupPatterns)) > 0
	fired := present
	if p.negate {
		fired = !present
	}
	if fired {
		return engine.Continue
	}
	return engine.Stop
}
