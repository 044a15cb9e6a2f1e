package translator

import (
	"errors"
	"io"
	"testing"
)

func TestExchangeBufferedFlow(t *testing.T) {
	ex := NewExchange(FormatOpenAI, FormatClaude)
	if ex.State() != StateIdle {
		t.Fatalf("initial state = %s", ex.State())
	}
	for _, next := range []ExchangeState{
		StateTranslatingRequest,
		StateAwaitingBackend,
		StateTranslatingResponse,
		StateDone,
	} {
		if err := ex.Transition(next); err != nil {
			t.Fatalf("Transition(%s): %v", next, err)
		}
	}
	if !ex.Terminal() {
		t.Error("done exchange should be terminal")
	}
	if ex.Err() != nil {
		t.Errorf("Err = %v, want nil", ex.Err())
	}
}

func TestExchangeStreamingFlow(t *testing.T) {
	ex := NewExchange(FormatClaude, FormatOpenAI)
	for _, next := range []ExchangeState{
		StateTranslatingRequest,
		StateAwaitingBackend,
		StateStreaming,
		StateDone,
	} {
		if err := ex.Transition(next); err != nil {
			t.Fatalf("Transition(%s): %v", next, err)
		}
	}
	if !ex.Terminal() {
		t.Error("done exchange should be terminal")
	}
}

func TestExchangeRejectsIllegalMove(t *testing.T) {
	ex := NewExchange(FormatOpenAI, FormatOllama)

	err := ex.Transition(StateStreaming)
	if !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}
	if ex.State() != StateIdle {
		t.Errorf("failed transition must not move the state, got %s", ex.State())
	}

	for _, next := range []ExchangeState{StateTranslatingRequest, StateAwaitingBackend, StateTranslatingResponse, StateDone} {
		if err := ex.Transition(next); err != nil {
			t.Fatalf("Transition(%s): %v", next, err)
		}
	}
	if err := ex.Transition(StateTranslatingRequest); !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("terminal exchange accepted a transition: %v", err)
	}
}

func TestExchangeFailFirstErrorWins(t *testing.T) {
	ex := NewExchange(FormatGemini, FormatOpenAI)
	if err := ex.Transition(StateTranslatingRequest); err != nil {
		t.Fatalf("Transition: %v", err)
	}

	ex.Fail(io.ErrUnexpectedEOF)
	if ex.State() != StateFailed {
		t.Fatalf("state = %s, want failed", ex.State())
	}
	if !ex.Terminal() {
		t.Error("failed exchange should be terminal")
	}
	if !errors.Is(ex.Err(), io.ErrUnexpectedEOF) {
		t.Errorf("Err = %v", ex.Err())
	}

	ex.Fail(errors.New("second"))
	if !errors.Is(ex.Err(), io.ErrUnexpectedEOF) {
		t.Errorf("later Fail overwrote the first error: %v", ex.Err())
	}

	if err := ex.Transition(StateAwaitingBackend); !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("failed exchange accepted a transition: %v", err)
	}
}

func TestExchangeFailAfterDoneIsNoop(t *testing.T) {
	ex := NewExchange(FormatOpenAI, FormatOpenAI)
	for _, next := range []ExchangeState{StateTranslatingRequest, StateAwaitingBackend, StateTranslatingResponse, StateDone} {
		if err := ex.Transition(next); err != nil {
			t.Fatalf("Transition(%s): %v", next, err)
		}
	}
	ex.Fail(errors.New("too late"))
	if ex.State() != StateDone {
		t.Errorf("state = %s, want done", ex.State())
	}
	if ex.Err() != nil {
		t.Errorf("Err = %v, want nil", ex.Err())
	}
}
