package plugins

import (
	"gooomd/cgroups"
	"gooomd/engine"
)

func init() {
	Register("stop", KindDetector, func() engine.Plugin {
		return &Stop{}
	})
}

// Stop 无条件STOP，拿来当检测器链的终止符
type Stop struct{}

func (p *Stop) Name() string {
	return "stop"
}

func (p *Stop) Init(resources engine.MonitoredResources, args engine.PluginArgs, cc engine.ConstructionContext) error {
	return nil
}

func (p *Stop) Run(octx *cgroups.OomdContext) engine.PluginRet {
	return engine.Stop
}
