package translator

import (
	"errors"
	"fmt"
	"sync"
)

// ExchangeState names one phase of a logical request/response exchange.
type ExchangeState string

const (
	StateIdle                ExchangeState = "idle"
	StateTranslatingRequest  ExchangeState = "translating_request"
	StateAwaitingBackend     ExchangeState = "awaiting_backend"
	StateTranslatingResponse ExchangeState = "translating_response"
	StateStreaming           ExchangeState = "streaming"
	StateDone                ExchangeState = "done"
	StateFailed              ExchangeState = "failed"
)

// ErrIllegalTransition marks an exchange transition outside the
// allowed flow. Matched with errors.Is.
var ErrIllegalTransition = errors.New("illegal exchange transition")

// exchangeFlow lists the legal forward moves. StateFailed is reachable
// from every non-terminal state through Fail, never through Transition.
var exchangeFlow = map[ExchangeState][]ExchangeState{
	StateIdle:                {StateTranslatingRequest},
	StateTranslatingRequest:  {StateAwaitingBackend},
	StateAwaitingBackend:     {StateTranslatingResponse, StateStreaming},
	StateTranslatingResponse: {StateDone},
	StateStreaming:           {StateDone},
}

// Exchange tracks one logical request/response pair through the
// translation flow:
//
//	Idle -> TranslatingRequest -> AwaitingBackend ->
//	TranslatingResponse|Streaming -> Done
//
// It is bookkeeping for the caller driving the exchange; the Service
// itself never retries or re-enters. Safe for concurrent use.
type Exchange struct {
	source Format
	target Format

	mu    sync.Mutex
	state ExchangeState
	err   error
}

// NewExchange starts an exchange between a client format and a backend
// format in StateIdle.
func NewExchange(source, target Format) *Exchange {
	return &Exchange{source: source, target: target, state: StateIdle}
}

// Source returns the client wire format of this exchange.
func (e *Exchange) Source() Format { return e.source }

// Target returns the backend wire format of this exchange.
func (e *Exchange) Target() Format { return e.target }

// State returns the current state.
func (e *Exchange) State() ExchangeState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Err returns the failure recorded by Fail, or nil.
func (e *Exchange) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Transition moves the exchange to next, rejecting moves outside the
// flow. Terminal states (Done, Failed) accept no further moves.
func (e *Exchange) Transition(next ExchangeState) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, allowed := range exchangeFlow[e.state] {
		if next == allowed {
			e.state = next
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s (%s to %s)",
		ErrIllegalTransition, e.state, next, e.source, e.target)
}

// Fail moves the exchange to StateFailed and records err. Failing a
// terminal exchange is a no-op so the first error wins.
func (e *Exchange) Fail(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateDone || e.state == StateFailed {
		return
	}
	e.state = StateFailed
	e.err = err
}

// Terminal reports whether the exchange has reached Done or Failed.
func (e *Exchange) Terminal() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == StateDone || e.state == StateFailed
}
