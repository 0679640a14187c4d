package translate

import (
	"context"
	"sync"
)

// MockName is the provider name of Mock.
const MockName = "mock"

// Mock is a scripted Translator for tests and scenarios.
type Mock struct {
	// Transform maps one input to its translation. Default prefixes "~".
	Transform func(string) string

	// FailIf, when set, is consulted per call; a non-nil error fails it.
	FailIf func(texts []string) error

	// Drop removes this many items from every answer, to provoke a length
	// mismatch.
	Drop int

	// Gate, when set, holds each call until it is closed or ctx is done.
	Gate chan struct{}

	mu    sync.Mutex
	calls [][]string
}

// NewMock creates a Mock with the default transform.
func NewMock() *Mock {
	return &Mock{}
}

// Translate implements Translator.
func (m *Mock) Translate(ctx context.Context, texts []string) ([]string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, append([]string(nil), texts...))
	m.mu.Unlock()

	if m.Gate != nil {
		select {
		case <-m.Gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.FailIf != nil {
		if err := m.FailIf(texts); err != nil {
			return nil, err
		}
	}

	transform := m.Transform
	if transform == nil {
		transform = func(s string) string { return "~" + s }
	}
	out := make([]string, 0, len(texts))
	for _, t := range texts {
		out = append(out, transform(t))
	}
	if m.Drop > 0 {
		if m.Drop >= len(out) {
			return []string{}, nil
		}
		out = out[:len(out)-m.Drop]
	}
	return out, nil
}

// Calls returns the batches received so far.
func (m *Mock) Calls() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]string, len(m.calls))
	copy(out, m.calls)
	return out
}
