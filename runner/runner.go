// Package runner drives a session under a test configuration: load,
// feed the initial events, wait for completion and judge the outcome
// against the expectation. This is the only contract the conformance
// harness depends on.
package runner

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/BWeng20/ruFSM/executor"
	"github.com/BWeng20/ruFSM/fsm"
)

// Outcome of one test run.
type Outcome string

const (
	OutcomePass    Outcome = "pass"
	OutcomeFail    Outcome = "fail"
	OutcomeTimeout Outcome = "timeout"
)

// EventSpec describes an initial event in the configuration.
type EventSpec struct {
	Name string `json:"name" yaml:"name"`

	// DelayMs postpones the enqueue relative to session start.
	DelayMs int64 `json:"delay_ms,omitempty" yaml:"delay_ms,omitempty"`
}

// TraceSpec selects tracing for the run.
type TraceSpec struct {
	Mode string `json:"mode,omitempty" yaml:"mode,omitempty"`
}

// Config is the test-runner configuration, read from JSON or YAML.
type Config struct {
	Datamodel       string      `json:"datamodel,omitempty" yaml:"datamodel,omitempty"`
	IncludePaths    []string    `json:"include_paths,omitempty" yaml:"include_paths,omitempty"`
	ExpectedOutcome string      `json:"expected_outcome,omitempty" yaml:"expected_outcome,omitempty"`
	InitialEvents   []EventSpec `json:"initial_events,omitempty" yaml:"initial_events,omitempty"`
	TimeoutMs       int64       `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	Trace           *TraceSpec  `json:"trace,omitempty" yaml:"trace,omitempty"`
}

// DefaultTimeout applies when the configuration fixes none.
const DefaultTimeout = 5 * time.Second

// LoadConfig reads a configuration file; YAML is selected by file
// suffix, everything else is parsed as JSON.
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(raw, strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml"))
}

// ParseConfig parses a configuration blob.
func ParseConfig(raw []byte, isYaml bool) (*Config, error) {
	config := &Config{}
	if isYaml {
		if err := yaml.Unmarshal(raw, config); err != nil {
			return nil, fmt.Errorf("parsing test config: %w", err)
		}
		return config, nil
	}
	if err := json.Unmarshal(raw, config); err != nil {
		return nil, fmt.Errorf("parsing test config: %w", err)
	}
	return config, nil
}

// Result of Run: the outcome plus whether it matched the
// expectation. The process exit contract is: zero iff Matched.
type Result struct {
	Outcome Outcome
	Matched bool

	// FinalStates are the state names active when the session
	// exited.
	FinalStates []string
}

// Run loads the model and drives it per the configuration. A run
// passes when the session halts in a top-level final state named
// "pass".
func Run(e *executor.FsmExecutor, source string, config *Config) (*Result, error) {
	if config == nil {
		config = &Config{}
	}
	if len(config.IncludePaths) > 0 {
		e.SetIncludePaths(config.IncludePaths)
	}
	if config.Datamodel != "" {
		e.SetDatamodelOption("datamodel", config.Datamodel)
	}
	trace := fsm.TraceNone
	if config.Trace != nil {
		trace = fsm.TraceModeFromString(config.Trace.Mode)
	}

	id, err := e.Execute(source, trace)
	if err != nil {
		return nil, err
	}
	session, have := e.Session(id)
	if !have {
		return nil, fmt.Errorf("session %d finished before it could be observed", id)
	}
	sender := session.ExternalQueue
	for _, spec := range config.InitialEvents {
		ev := fsm.NewSimpleEvent(spec.Name)
		if spec.DelayMs > 0 {
			e.ScheduleSend(id, "initial:"+spec.Name,
				time.Duration(spec.DelayMs)*time.Millisecond,
				func() { sender.Enqueue(ev) })
		} else {
			sender.Enqueue(ev)
		}
	}

	timeout := DefaultTimeout
	if config.TimeoutMs > 0 {
		timeout = time.Duration(config.TimeoutMs) * time.Millisecond
	}

	result := &Result{Outcome: OutcomeFail}
	select {
	case finalStates := <-session.Finished:
		result.FinalStates = finalStates
		for _, name := range finalStates {
			if name == "pass" {
				result.Outcome = OutcomePass
				break
			}
		}
	case <-time.After(timeout):
		result.Outcome = OutcomeTimeout
		sender.Enqueue(fsm.NewCancelSession())
	}

	expected := config.ExpectedOutcome
	if expected == "" {
		expected = string(OutcomePass)
	}
	result.Matched = string(result.Outcome) == expected
	return result, nil
}
