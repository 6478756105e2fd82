package providers

// StreamEvent is the normalized event emitted by a streaming adapter.
//
// The set of variants is closed: every type switch over StreamEvent can be
// exhaustive, so a new provider event kind fails loudly at review time
// instead of silently no-opping. Provider keep-alive signals are absorbed by
// the adapters and never surface here.
type StreamEvent interface {
	streamEvent()
}

// Started signals the provider accepted the request and began generating.
type Started struct{}

// ReasoningStarted opens a reasoning (thinking) block.
type ReasoningStarted struct{}

// ReasoningDelta carries an increment of reasoning text. Reasoning text is
// consumed for transparency only and is never part of the manuscript.
type ReasoningDelta struct {
	Text string
}

// ReasoningStopped closes a reasoning block.
type ReasoningStopped struct{}

// TextStarted opens an output text block.
type TextStarted struct{}

// TextDelta carries an increment of output text.
type TextDelta struct {
	Text string
}

// TextStopped closes an output text block.
type TextStopped struct{}

// UsageUpdate reports incremental token accounting mid-stream.
type UsageUpdate struct {
	Usage Usage
}

// ErrorEvent surfaces a provider-declared error category verbatim.
type ErrorEvent struct {
	Kind    ErrorKind
	Message string
}

// Done terminates the stream with final usage and the provider stop reason.
type Done struct {
	Usage      Usage
	StopReason string
}

func (Started) streamEvent()          {}
func (ReasoningStarted) streamEvent() {}
func (ReasoningDelta) streamEvent()   {}
func (ReasoningStopped) streamEvent() {}
func (TextStarted) streamEvent()      {}
func (TextDelta) streamEvent()        {}
func (TextStopped) streamEvent()      {}
func (UsageUpdate) streamEvent()      {}
func (ErrorEvent) streamEvent()       {}
func (Done) streamEvent()             {}

// Err converts an ErrorEvent into a *ProviderError for callers that need
// an error value rather than an event.
func (e ErrorEvent) Err() *ProviderError {
	return &ProviderError{Kind: e.Kind, Message: e.Message}
}
