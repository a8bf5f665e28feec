package events

import (
	"fmt"
	"strings"
	"time"
)

// Topic is the broker topic all harness lifecycle events are published on.
const Topic = "/lifecycle"

// PublishTimeout bounds how long a publisher blocks on a slow subscriber.
const PublishTimeout = 1 * time.Second

// EventPortsAllocated is published once the three loopback ports are known
type EventPortsAllocated struct {
	RunID    string
	Proxy    int
	ProxyAPI int
	Backend  int
}

func (e EventPortsAllocated) String() string {
	return fmt.Sprintf("ports allocated run=%s proxy=%d api=%d backend=%d", e.RunID, e.Proxy, e.ProxyAPI, e.Backend)
}

// EventBackendStarted is published when the counting backend is listening
type EventBackendStarted struct {
	Addr string
}

func (e EventBackendStarted) String() string {
	return "backend started on " + e.Addr
}

// EventProxyStarted is published when the proxy process has been spawned
type EventProxyStarted struct {
	Cmd  string
	Args []string
	Pid  int
}

func (e EventProxyStarted) String() string {
	return fmt.Sprintf("proxy started pid=%d: %s %s", e.Pid, e.Cmd, strings.Join(e.Args, " "))
}

// EventProxyStopped is published when the proxy process has exited
type EventProxyStopped struct {
	Pid int
	Err error
}

func (e EventProxyStopped) String() string {
	if e.Err != nil {
		return fmt.Sprintf("proxy pid=%d stopped: %v", e.Pid, e.Err)
	}
	return fmt.Sprintf("proxy pid=%d stopped", e.Pid)
}

// EventConfigPushed is published after a modifier config was accepted
type EventConfigPushed struct {
	Mode     string
	Response string
}

func (e EventConfigPushed) String() string {
	return fmt.Sprintf("configured mode=%s response=%q", e.Mode, e.Response)
}

// EventStepCompleted is published after every scenario step
type EventStepCompleted struct {
	Scenario string
	Index    int
	Step     string
	Passed   bool
}

func (e EventStepCompleted) String() string {
	status := "ok"
	if !e.Passed {
		status = "FAILED"
	}
	return fmt.Sprintf("%s step %d (%s): %s", e.Scenario, e.Index+1, e.Step, status)
}

// EventTeardown is published when an environment has been torn down
type EventTeardown struct {
	Scenario string
	Err      error
}

func (e EventTeardown) String() string {
	if e.Err != nil {
		return fmt.Sprintf("teardown %s: %v", e.Scenario, e.Err)
	}
	return "teardown " + e.Scenario
}

// EventError is published when a component encounters an error
type EventError struct {
	Component string
	Error     error
}

func (e EventError) String() string {
	return fmt.Sprintf("%s error: %v", e.Component, e.Error)
}
