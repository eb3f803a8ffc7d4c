package fsm

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// TraceMode is a bit set selecting what a Tracer observes.
type TraceMode int

const (
	TraceMethods TraceMode = 1 << iota
	TraceStates
	TraceEvents

	TraceNone TraceMode = 0
	TraceAll  TraceMode = TraceMethods | TraceStates | TraceEvents
)

// TraceModeFromString parses "methods,states,events", "all" or
// "none".
func TraceModeFromString(s string) TraceMode {
	mode := TraceNone
	for _, part := range strings.Split(strings.ToLower(s), ",") {
		switch strings.TrimSpace(part) {
		case "methods":
			mode |= TraceMethods
		case "states":
			mode |= TraceStates
		case "events":
			mode |= TraceEvents
		case "all":
			mode |= TraceAll
		}
	}
	return mode
}

// Tracer observes the interpreter. Implementations must tolerate
// calls from the session worker only.
type Tracer interface {
	EnableTrace(mode TraceMode)
	IsEnabled(mode TraceMode) bool

	EnterMethod(name string)
	ExitMethod(name string)

	// Event traces queue operations; what is one of "internal",
	// "external", "sent".
	Event(what string, ev *Event)

	// State traces configuration changes; what is "enter" or
	// "exit".
	State(what string, stateName string)
}

// DefaultTracer logs through zerolog.
type DefaultTracer struct {
	SessionId SessionId
	mode      TraceMode
}

func NewDefaultTracer(id SessionId, mode TraceMode) *DefaultTracer {
	return &DefaultTracer{SessionId: id, mode: mode}
}

func (t *DefaultTracer) EnableTrace(mode TraceMode)    { t.mode = mode }
func (t *DefaultTracer) IsEnabled(mode TraceMode) bool { return t.mode&mode != 0 }

func (t *DefaultTracer) EnterMethod(name string) {
	if t.IsEnabled(TraceMethods) {
		log.Debug().Uint32("session", uint32(t.SessionId)).Str("method", name).Msg(">>>")
	}
}

func (t *DefaultTracer) ExitMethod(name string) {
	if t.IsEnabled(TraceMethods) {
		log.Debug().Uint32("session", uint32(t.SessionId)).Str("method", name).Msg("<<<")
	}
}

func (t *DefaultTracer) Event(what string, ev *Event) {
	if t.IsEnabled(TraceEvents) && ev != nil {
		log.Debug().Uint32("session", uint32(t.SessionId)).
			Str("queue", what).Str("event", ev.Name).
			Str("type", ev.Etype.String()).Msg("event")
	}
}

func (t *DefaultTracer) State(what string, stateName string) {
	if t.IsEnabled(TraceStates) {
		log.Debug().Uint32("session", uint32(t.SessionId)).
			Str("op", what).Str("state", stateName).Msg("state")
	}
}

// LogLevelVariable is the RUST_LOG-style environment variable that
// configures the global log level.
const LogLevelVariable = "RUFSM_LOG"

// InitLogging configures zerolog from LogLevelVariable. Safe to call
// more than once.
func InitLogging() {
	level := os.Getenv(LogLevelVariable)
	if level == "" {
		return
	}
	if l, err := zerolog.ParseLevel(strings.ToLower(level)); err == nil {
		zerolog.SetGlobalLevel(l)
	}
}
