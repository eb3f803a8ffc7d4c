// Package rufsm is an embeddable Harel statechart interpreter
// conforming to the W3C SCXML 1.0 recommendation.
//
// The interesting packages:
//
//	fsm         The compiled model, the per-session queues, the
//	            datamodel capability surface and the W3C
//	            interpretation algorithm.
//	expression  The expression sub-language (lexer, parser,
//	            evaluator) behind the "rfsm-expression" datamodel.
//	ecmascript  The goja-backed "ecmascript" datamodel.
//	executor    Multi-session execution: loaders, event routing,
//	            invoke plumbing and delayed sends.
//	serializer  The binary .rfsm form of a compiled model.
//	storage     A bbolt-backed cache of compiled models.
//	runner      The test-harness configuration and driver.
//
// A model is produced by a reader (external to this module) or built
// programmatically against the arenas in fsm, then run by an
// executor. Sessions communicate exclusively through their event
// queues.
package rufsm
