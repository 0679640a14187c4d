package config

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaSource string

var (
	schemaOnce  sync.Once
	cueCtx      *cue.Context
	schemaValue cue.Value
	schemaErr   error
)

func configSchema() (*cue.Context, cue.Value, error) {
	schemaOnce.Do(func() {
		cueCtx = cuecontext.New()
		v := cueCtx.CompileString(schemaSource, cue.Filename("schema.cue"))
		if err := v.Err(); err != nil {
			schemaErr = fmt.Errorf("compile config schema: %w", err)
			return
		}
		schemaValue = v.LookupPath(cue.ParsePath("#Config"))
	})
	return cueCtx, schemaValue, schemaErr
}

// ValidationError is one schema violation.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// InvalidError wraps every violation found in a configuration.
type InvalidError struct {
	Errors []ValidationError
}

// Error implements the error interface.
func (e *InvalidError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, ve := range e.Errors {
		msgs[i] = ve.Error()
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}

// Validate checks cfg against the embedded CUE schema and returns every
// violation (it does not fail fast).
func Validate(cfg Config) []ValidationError {
	ctx, schema, err := configSchema()
	if err != nil {
		return []ValidationError{{Message: err.Error()}}
	}

	value := ctx.Encode(cfg)
	if err := value.Err(); err != nil {
		return []ValidationError{{Message: fmt.Sprintf("encode config: %v", err)}}
	}

	unified := schema.Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		var out []ValidationError
		byField := map[string]int{}
		for _, e := range cueerrors.Errors(err) {
			field := fieldPath(e.Path())
			format, args := e.Msg()
			msg := fmt.Sprintf(format, args...)

			i, seen := byField[field]
			if !seen {
				byField[field] = len(out)
				out = append(out, ValidationError{Field: field, Message: msg})
				continue
			}
			// A failed disjunction is a header followed by one error per
			// alternative; they are folded into the field's single entry.
			switch {
			case isDisjunctionHeader(msg):
			case isDisjunctionHeader(out[i].Message):
				out[i].Message = msg
			default:
				out[i].Message += "; " + msg
			}
		}
		return out
	}
	return nil
}

// fieldPath joins a CUE error path without the schema definition it was
// checked against: "#Config.reading.theme" becomes "reading.theme".
func fieldPath(path []string) string {
	for len(path) > 0 && strings.HasPrefix(path[0], "#") {
		path = path[1:]
	}
	return strings.Join(path, ".")
}

func isDisjunctionHeader(msg string) bool {
	return strings.Contains(msg, "empty disjunction")
}
