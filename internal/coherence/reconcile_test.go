package coherence

import (
	"context"
	"strings"
	"testing"

	"github.com/Davinchi1352/bukoai-sub001/internal/providers"
	"github.com/Davinchi1352/bukoai-sub001/internal/resilience"
)

// testPolicy keeps fixture text small: one page per 100 characters.
var testPolicy = PagePolicy{CharsPerPage: 100}

func newTestReconciler(mock *providers.MockClient, maxExpansions int) *Reconciler {
	breaker := resilience.NewBreaker(resilience.BreakerConfig{Name: "test"})
	caller := resilience.NewCaller(mock, breaker, resilience.RetryConfig{Attempts: 1}, nil)
	return NewReconciler(caller, ReconcilerConfig{
		Policy:        testPolicy,
		MaxExpansions: maxExpansions,
	})
}

func textOfChars(n int) string {
	return strings.Repeat(strings.Repeat("a", 9)+" ", n/10)
}

func TestReconcile_CompliantChunkAcceptedUntouched(t *testing.T) {
	mock := providers.NewMockClient("should never be called")
	r := newTestReconciler(mock, 2)

	text := textOfChars(1000) // exactly 10 pages
	out, usage, err := r.Reconcile(context.Background(), text, 10, NewHeaderIndex())
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if out.Text != text {
		t.Error("compliant chunk was modified")
	}
	if out.Expansions != 0 || mock.Calls() != 0 {
		t.Errorf("Expansions = %d, Calls = %d, want 0 and 0", out.Expansions, mock.Calls())
	}
	if out.Shortfall {
		t.Error("compliant chunk flagged as shortfall")
	}
	if usage.Total() != 0 {
		t.Errorf("usage = %+v, want zero without expansion", usage)
	}
}

func TestReconcile_ExpansionClosesGap(t *testing.T) {
	mock := providers.NewMockClient(textOfChars(250))
	r := newTestReconciler(mock, 2)

	out, usage, err := r.Reconcile(context.Background(), textOfChars(800), 10, NewHeaderIndex())
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if out.Expansions != 1 {
		t.Fatalf("Expansions = %d, want 1", out.Expansions)
	}
	if out.Compliance < 0.90 || out.Compliance > 1.10 {
		t.Errorf("Compliance = %.3f, want within [0.90, 1.10]", out.Compliance)
	}
	if out.Shortfall {
		t.Error("recovered chunk flagged as shortfall")
	}
	if !strings.HasPrefix(out.Text, textOfChars(800)) {
		t.Error("expansion must append, not rewrite")
	}
	if usage.Total() == 0 {
		t.Error("expansion usage was not accumulated")
	}
}

func TestReconcile_ShortfallAfterMaxExpansions(t *testing.T) {
	// Each expansion adds a trivial amount; the gap never closes.
	mock := providers.NewMockClient(textOfChars(20))
	r := newTestReconciler(mock, 2)

	out, _, err := r.Reconcile(context.Background(), textOfChars(500), 10, NewHeaderIndex())
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if out.Expansions != 2 {
		t.Errorf("Expansions = %d, want 2 (budget exhausted)", out.Expansions)
	}
	if !out.Shortfall {
		t.Error("under-target chunk must record a shortfall, not fail")
	}
	if mock.Calls() != 2 {
		t.Errorf("Calls() = %d, want 2", mock.Calls())
	}
}

func TestReconcile_DuplicateSuppressesExpansion(t *testing.T) {
	mock := providers.NewMockClient("should never be called")
	r := newTestReconciler(mock, 2)

	idx := NewHeaderIndex()
	idx.Accept("# Chapter 1: The Feedback Loop\n\n" + textOfChars(900))

	short := "# Chapter 2: The Feedback Loop\n\n" + textOfChars(300)
	out, _, err := r.Reconcile(context.Background(), short, 10, idx)
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if len(out.Duplicates) != 1 {
		t.Fatalf("Duplicates = %+v, want one flag", out.Duplicates)
	}
	if mock.Calls() != 0 {
		t.Errorf("Calls() = %d, expansion must not run on a flagged chunk", mock.Calls())
	}
}

func TestReconcile_EmptyExpansionStops(t *testing.T) {
	mock := providers.NewMockClient("   \n")
	r := newTestReconciler(mock, 2)

	out, _, err := r.Reconcile(context.Background(), textOfChars(500), 10, NewHeaderIndex())
	if err != nil {
		t.Fatalf("Reconcile() error = %v", err)
	}
	if mock.Calls() != 1 {
		t.Errorf("Calls() = %d, want 1 (empty addition ends the loop)", mock.Calls())
	}
	if !out.Shortfall {
		t.Error("shortfall not recorded after empty expansion")
	}
}

func TestReconcile_ExpansionFailureKeepsChunk(t *testing.T) {
	mock := &providers.MockClient{
		Default: providers.MockCall{
			Err: &providers.ProviderError{Kind: providers.ErrKindInvalidRequest, Message: "too long"},
		},
	}
	r := newTestReconciler(mock, 2)

	text := textOfChars(500)
	out, _, err := r.Reconcile(context.Background(), text, 10, NewHeaderIndex())
	if err == nil {
		t.Fatal("Reconcile() error = nil, want expansion failure")
	}
	if out == nil || out.Text != text {
		t.Fatal("failed expansion must still return the original chunk")
	}
	if !out.Shortfall {
		t.Error("shortfall not recorded on expansion failure")
	}
}

func TestPagePolicy_Measure(t *testing.T) {
	p := DefaultPagePolicy()
	m := p.Measure(strings.Repeat("word ", 560)) // 2800 chars
	if m.Pages < 0.99 || m.Pages > 1.01 {
		t.Errorf("Pages = %.3f, want ~1.0", m.Pages)
	}
	if m.Words != 560 {
		t.Errorf("Words = %d, want 560", m.Words)
	}
}

func TestPagePolicy_ComplianceZeroTarget(t *testing.T) {
	if c := testPolicy.Compliance("anything", 0); c != 1.0 {
		t.Errorf("Compliance with zero target = %.2f, want 1.0", c)
	}
}
