package testspec

import "github.com/perbu/replaytest/pkg/control"

// Builtin returns the three reference scenarios. Counter values account for
// the warm-up request that takes the backend from 0 to 1 before the first
// step runs.
func Builtin() []ScenarioSpec {
	specs := []ScenarioSpec{
		{
			Name: "record and replay",
			Steps: []StepSpec{
				{Action: ActionDirect, Expect: Int(1)},
				{Action: ActionProxied, Expect: Int(2)},
				{Action: ActionConfigure, Mode: control.ModeCache},
				{Action: ActionProxied, Expect: Int(3)},
				{Action: ActionConfigure, Mode: control.ModeReplay},
				{Action: ActionProxied, Expect: Int(3)},
				{Action: ActionDirect, Expect: Int(4)},
			},
		},
		{
			Name: "replay miss",
			Steps: []StepSpec{
				{Action: ActionDirect, Expect: Int(1)},
				{Action: ActionConfigure, Mode: control.ModeCache},
				{Action: ActionProxied, Expect: Int(2)},
				{Action: ActionConfigure, Mode: control.ModeReplay},
				{Action: ActionProxied, Expect: Int(2)},
				{Action: ActionProxied, Path: "/not_cached", ExpectBody: String("/not_cached")},
				{Action: ActionDirect, Expect: Int(3)},
			},
		},
		{
			Name:      "persistence round-trip",
			CacheFile: true,
			Steps: []StepSpec{
				{Action: ActionDirect, Expect: Int(1)},
				{Action: ActionDirect, Expect: Int(2)},
				{Action: ActionConfigure, Mode: control.ModeCache},
				{Action: ActionProxied, Expect: Int(3)},
				{Action: ActionRestart},
				{Action: ActionConfigure, Mode: control.ModeReplay},
				{Action: ActionProxied, Expect: Int(3)},
			},
		},
	}
	for i := range specs {
		specs[i].ApplyDefaults()
	}
	return specs
}
