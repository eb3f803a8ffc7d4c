package runner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BWeng20/ruFSM/executor"
	"github.com/BWeng20/ruFSM/fsm"
)

func passFailModel(passOn string) *fsm.Fsm {
	f := fsm.NewFsm("testmodel", fsm.NullDatamodelName)
	s0 := f.NewState("s0")
	f.AddChild(f.PseudoRoot, s0.Id)
	pass := f.NewState("pass")
	pass.IsFinal = true
	f.AddChild(f.PseudoRoot, pass.Id)
	fail := f.NewState("fail")
	fail.IsFinal = true
	f.AddChild(f.PseudoRoot, fail.Id)

	t1 := f.NewTransition(s0.Id)
	t1.Events = []string{passOn}
	t1.Target = []fsm.StateId{pass.Id}
	t2 := f.NewTransition(s0.Id)
	t2.Events = []string{"break"}
	t2.Target = []fsm.StateId{fail.Id}
	return f
}

func TestParseConfigJson(t *testing.T) {
	raw := []byte(`{
		"datamodel": "rfsm-expression",
		"include_paths": ["a", "b"],
		"expected_outcome": "fail",
		"initial_events": [{"name": "go"}, {"name": "late", "delay_ms": 10}],
		"timeout_ms": 500,
		"trace": {"mode": "states,events"}
	}`)
	config, err := ParseConfig(raw, false)
	require.NoError(t, err)
	assert.Equal(t, "rfsm-expression", config.Datamodel)
	assert.Equal(t, []string{"a", "b"}, config.IncludePaths)
	assert.Equal(t, "fail", config.ExpectedOutcome)
	require.Len(t, config.InitialEvents, 2)
	assert.Equal(t, int64(10), config.InitialEvents[1].DelayMs)
	assert.Equal(t, int64(500), config.TimeoutMs)
	require.NotNil(t, config.Trace)
	assert.Equal(t, fsm.TraceStates|fsm.TraceEvents,
		fsm.TraceModeFromString(config.Trace.Mode))
}

func TestParseConfigYaml(t *testing.T) {
	raw := []byte(`
datamodel: null
expected_outcome: pass
initial_events:
  - name: go
timeout_ms: 250
`)
	config, err := ParseConfig(raw, true)
	require.NoError(t, err)
	assert.Equal(t, "pass", config.ExpectedOutcome)
	require.Len(t, config.InitialEvents, 1)
	assert.Equal(t, "go", config.InitialEvents[0].Name)
}

func TestRunPasses(t *testing.T) {
	loader := executor.NewMemoryLoader()
	loader.Register("m", passFailModel("go"))
	e := executor.New(loader)
	defer e.Shutdown()

	result, err := Run(e, "m", &Config{
		InitialEvents: []EventSpec{{Name: "go"}},
		TimeoutMs:     2000,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomePass, result.Outcome)
	assert.True(t, result.Matched)
	assert.Contains(t, result.FinalStates, "pass")
}

func TestRunObservesExpectedFailure(t *testing.T) {
	loader := executor.NewMemoryLoader()
	loader.Register("m", passFailModel("go"))
	e := executor.New(loader)
	defer e.Shutdown()

	result, err := Run(e, "m", &Config{
		ExpectedOutcome: "fail",
		InitialEvents:   []EventSpec{{Name: "break"}},
		TimeoutMs:       2000,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeFail, result.Outcome)
	assert.True(t, result.Matched)
}

func TestRunTimesOut(t *testing.T) {
	loader := executor.NewMemoryLoader()
	loader.Register("m", passFailModel("never"))
	e := executor.New(loader)
	defer e.Shutdown()

	result, err := Run(e, "m", &Config{TimeoutMs: 50})
	require.NoError(t, err)
	assert.Equal(t, OutcomeTimeout, result.Outcome)
	assert.False(t, result.Matched)
}

func TestRunDeliversDelayedInitialEvents(t *testing.T) {
	loader := executor.NewMemoryLoader()
	loader.Register("m", passFailModel("go"))
	e := executor.New(loader)
	defer e.Shutdown()

	result, err := Run(e, "m", &Config{
		InitialEvents: []EventSpec{{Name: "go", DelayMs: 20}},
		TimeoutMs:     2000,
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomePass, result.Outcome)
}
