package translate

import (
	"context"
	"errors"
	"fmt"
)

// Translator translates an ordered batch of strings. The result must have
// the same length and order as the input.
type Translator interface {
	Translate(ctx context.Context, texts []string) ([]string, error)
}

// TranslatorFunc adapts a function to Translator.
type TranslatorFunc func(ctx context.Context, texts []string) ([]string, error)

// Translate calls f.
func (f TranslatorFunc) Translate(ctx context.Context, texts []string) ([]string, error) {
	return f(ctx, texts)
}

// ErrLengthMismatch is returned when a provider answers with a different
// number of strings than it was sent.
var ErrLengthMismatch = errors.New("translation length mismatch")

func checkLength(sent, got int) error {
	if sent != got {
		return fmt.Errorf("%w: sent %d, got %d", ErrLengthMismatch, sent, got)
	}
	return nil
}
