package bridge

import (
	"context"
	"sync"
)

// Recorder is an in-memory Renderer that keeps every command it is sent.
type Recorder struct {
	mu       sync.Mutex
	commands []Command
	onSend   func(Command)
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// OnSend registers a hook called after each command is recorded. The hook
// runs on the sender's goroutine.
func (r *Recorder) OnSend(fn func(Command)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onSend = fn
}

// Send records cmd.
func (r *Recorder) Send(ctx context.Context, cmd Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	r.commands = append(r.commands, cmd)
	hook := r.onSend
	r.mu.Unlock()

	if hook != nil {
		hook(cmd)
	}
	return nil
}

// Commands returns a copy of the recorded commands in send order.
func (r *Recorder) Commands() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Command, len(r.commands))
	copy(out, r.commands)
	return out
}

// Scripts returns the parsed InjectScript commands of the given kind.
func (r *Recorder) Scripts(kind ScriptKind) []Script {
	var out []Script
	for _, cmd := range r.Commands() {
		inj, ok := cmd.(InjectScript)
		if !ok {
			continue
		}
		s, err := ParseScript(inj.Script)
		if err != nil || s.Kind != kind {
			continue
		}
		out = append(out, s)
	}
	return out
}

// Count returns how many commands with the given wire name were sent.
func (r *Recorder) Count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, cmd := range r.commands {
		if cmd.CommandName() == name {
			n++
		}
	}
	return n
}

// Reset drops all recorded commands.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = nil
}
