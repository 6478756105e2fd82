package providers

import (
	"context"
	"sync"
	"time"
)

// EventStream is a cancellable, single-consumer sequence of normalized
// stream events. It is finite and non-restartable: once Done or ErrorEvent
// has been received (or Close called) the channel is drained and closed.
type EventStream struct {
	events chan StreamEvent

	closeOnce sync.Once
	cancel    context.CancelFunc
}

// newEventStream creates a stream with a small buffer so producers are not
// lock-stepped with the consumer, plus the cancel func that tears down the
// underlying network call.
func newEventStream(cancel context.CancelFunc) *EventStream {
	return &EventStream{
		events: make(chan StreamEvent, 16),
		cancel: cancel,
	}
}

// Events returns the receive side of the stream. The channel is closed when
// the provider call ends, for any reason.
func (s *EventStream) Events() <-chan StreamEvent {
	return s.events
}

// Close cancels the underlying call. Safe to call more than once and safe
// to call concurrently with consumption.
func (s *EventStream) Close() {
	s.closeOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// send delivers an event unless the call context is gone.
func (s *EventStream) send(ctx context.Context, ev StreamEvent) bool {
	select {
	case s.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// finish closes the event channel. Called exactly once by the producing
// goroutine after the terminal event has been sent.
func (s *EventStream) finish() {
	close(s.events)
}

// Collect consumes a stream to completion, concatenating text deltas and
// tracking the final usage. It returns the accumulated text, the reasoning
// trace, and the final usage. An ErrorEvent terminates collection with the
// corresponding *ProviderError.
func Collect(ctx context.Context, s *EventStream) (text, reasoning string, usage Usage, err error) {
	return CollectWithStall(ctx, s, 0)
}

// CollectWithStall is Collect with a no-progress watchdog: if no event
// arrives for the stall duration, collection fails with a timeout-kind
// error even though the connection may still be open. A zero stall
// disables the watchdog.
func CollectWithStall(ctx context.Context, s *EventStream, stall time.Duration) (text, reasoning string, usage Usage, err error) {
	defer s.Close()

	var stallC <-chan time.Time
	var stallTimer *time.Timer
	if stall > 0 {
		stallTimer = time.NewTimer(stall)
		defer stallTimer.Stop()
		stallC = stallTimer.C
	}

	var textBuf, reasonBuf []byte
	for {
		select {
		case <-ctx.Done():
			return string(textBuf), string(reasonBuf), usage, ctx.Err()
		case <-stallC:
			return string(textBuf), string(reasonBuf), usage,
				&ProviderError{Kind: ErrKindTimeout, Message: "no stream progress within " + stall.String()}
		case ev, ok := <-s.Events():
			if stallTimer != nil {
				if !stallTimer.Stop() {
					select {
					case <-stallTimer.C:
					default:
					}
				}
				stallTimer.Reset(stall)
			}
			if !ok {
				return string(textBuf), string(reasonBuf), usage, nil
			}
			switch e := ev.(type) {
			case TextDelta:
				textBuf = append(textBuf, e.Text...)
			case ReasoningDelta:
				reasonBuf = append(reasonBuf, e.Text...)
			case UsageUpdate:
				usage = e.Usage
			case Done:
				usage = e.Usage
				return string(textBuf), string(reasonBuf), usage, nil
			case ErrorEvent:
				return string(textBuf), string(reasonBuf), usage, e.Err()
			case Started, ReasoningStarted, ReasoningStopped, TextStarted, TextStopped:
				// Block boundaries carry no payload.
			}
		}
	}
}
