package executor

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/BWeng20/ruFSM/fsm"
)

// ScxmlEventProcessor implements the SCXML event-I/O processor (W3C
// C.1): in-process routing between the executor's sessions through
// the special targets #_internal, #_parent, #_scxml_<sessionid> and
// #_<invokeid>.
type ScxmlEventProcessor struct {
	executor *FsmExecutor
}

func NewScxmlEventProcessor(executor *FsmExecutor) *ScxmlEventProcessor {
	return &ScxmlEventProcessor{executor: executor}
}

func (p *ScxmlEventProcessor) Location(id fsm.SessionId) string {
	return fsm.ScxmlTargetSessionPrefix + strconv.FormatUint(uint64(id), 10)
}

func (p *ScxmlEventProcessor) Types() []string {
	return []string{fsm.ScxmlEventProcessor, fsm.ScxmlEventProcessorShortType}
}

// Send routes ev to target. The error events required by the W3C are
// queued here; the caller only sees the success flag.
func (p *ScxmlEventProcessor) Send(global *fsm.GlobalData, target string, ev *fsm.Event) bool {
	ev.OriginType = fsm.ScxmlEventProcessor
	if ev.Origin == "" {
		ev.Origin = p.Location(global.SessionId)
	}

	switch target {
	case "":
		global.ExternalQueue.Enqueue(ev)
		return true
	case fsm.ScxmlTargetInternal:
		ev.Etype = fsm.EventInternal
		global.EnqueueInternal(ev)
		return true
	case fsm.ScxmlTargetParent:
		if global.ParentSessionId == 0 {
			return p.unreachable(global, target, ev)
		}
		return p.sendToSession(global, global.ParentSessionId, ev)
	}

	if strings.HasPrefix(target, fsm.ScxmlTargetSessionPrefix) {
		sid, err := strconv.ParseUint(target[len(fsm.ScxmlTargetSessionPrefix):], 10, 32)
		if err != nil {
			return p.unreachable(global, target, ev)
		}
		if fsm.SessionId(sid) == global.SessionId {
			// A zero-delay self-send bypasses the external
			// queue.
			global.EnqueueInternal(ev)
			return true
		}
		return p.sendToSession(global, fsm.SessionId(sid), ev)
	}

	if strings.HasPrefix(target, fsm.ScxmlTargetInvokePrefix) {
		invokeId := target[len(fsm.ScxmlTargetInvokePrefix):]
		child := global.ChildSessions[invokeId]
		if child == nil {
			return p.unreachable(global, target, ev)
		}
		child.ExternalQueue.Enqueue(ev)
		return true
	}

	// W3C: an unsupported target form raises error.execution.
	global.EnqueueInternal(fsm.NewErrorExecution(ev.SendId, ev.InvokeId))
	return false
}

func (p *ScxmlEventProcessor) sendToSession(global *fsm.GlobalData, sid fsm.SessionId, ev *fsm.Event) bool {
	if p.executor == nil {
		return p.unreachable(global, fmt.Sprintf("session %d", sid), ev)
	}
	if err := p.executor.SendToSession(sid, ev); err != nil {
		log.Warn().Uint32("session", uint32(sid)).Err(err).Msg("can't send to session")
		global.EnqueueInternal(fsm.NewErrorCommunication(ev))
		return false
	}
	return true
}

func (p *ScxmlEventProcessor) unreachable(global *fsm.GlobalData, target string, ev *fsm.Event) bool {
	log.Warn().Str("target", target).Msg("send target unreachable")
	global.EnqueueInternal(fsm.NewErrorCommunication(ev))
	return false
}

// Shutdown is a no-op; the sessions own their queues.
func (p *ScxmlEventProcessor) Shutdown() {}
