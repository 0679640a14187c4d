package harness

import "encoding/json"

// Trace event types.
const (
	TraceStep    = "step"
	TraceCommand = "command"
)

// TraceEvent is one scenario step or one command sent to the renderer.
type TraceEvent struct {
	Seq     int64           `json:"seq"`
	Type    string          `json:"type"`
	Step    string          `json:"step,omitempty"`
	Command string          `json:"command,omitempty"`
	Script  string          `json:"script,omitempty"`
	Args    json.RawMessage `json:"args,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every assertion held.
	Pass bool `json:"pass"`

	// Trace holds steps and commands in the order they happened.
	Trace []TraceEvent `json:"trace"`

	// Errors contains assertion failure messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Phase is the reconciler phase after the last step.
	Phase string `json:"phase"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Commands returns the command events of the trace.
func (r *Result) Commands() []TraceEvent {
	var out []TraceEvent
	for _, e := range r.Trace {
		if e.Type == TraceCommand {
			out = append(out, e)
		}
	}
	return out
}
