package bridge

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConn_ReceiveDropsBadLines(t *testing.T) {
	in := strings.Join([]string{
		`{"type":"ready"}`,
		`garbage`,
		``,
		`{"type":"getCurrentElementIndex","result":"three"}`,
		`{"type":"getCurrentElementIndex","result":3}`,
		`{"type":"somethingNew"}`,
	}, "\n")

	conn := NewConn(strings.NewReader(in), io.Discard, nil)

	var got []Message
	err := conn.Receive(context.Background(), func(m Message) { got = append(got, m) })
	require.NoError(t, err)

	require.Len(t, got, 3)
	assert.Equal(t, Ready{}, got[0])
	assert.Equal(t, CurrentElementIndex{Index: 3}, got[1])
	assert.Equal(t, "somethingNew", got[2].MessageType())
}

func TestConn_ReceiveStopsOnCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	conn := NewConn(pr, io.Discard, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- conn.Receive(ctx, func(Message) {}) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Receive did not return after cancel")
	}
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func TestConn_SendKeepsLinesWhole(t *testing.T) {
	var out lockedBuffer
	conn := NewConn(strings.NewReader(""), &out, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = conn.Send(ctx, InjectScript{Script: ReplaceTextElementScript(strings.Repeat("x", 1000), i)})
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(out.buf.String()), "\n")
	require.Len(t, lines, 20)
	for _, line := range lines {
		cmd, err := DecodeCommand([]byte(line))
		require.NoError(t, err)
		assert.Equal(t, CommandInjectScript, cmd.CommandName())
	}
}

func TestConn_SendOrder(t *testing.T) {
	var out bytes.Buffer
	conn := NewConn(strings.NewReader(""), &out, nil)
	ctx := context.Background()

	require.NoError(t, conn.Send(ctx, GoToLocation{Cfi: "0"}))
	require.NoError(t, conn.Send(ctx, GoNext{}))

	assert.Equal(t, "{\"command\":\"goToLocation\",\"args\":{\"cfi\":\"0\"}}\n{\"command\":\"goNext\"}\n", out.String())
}

func TestConn_SendCancelled(t *testing.T) {
	var out bytes.Buffer
	conn := NewConn(strings.NewReader(""), &out, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, conn.Send(ctx, GoNext{}), context.Canceled)
	assert.Zero(t, out.Len())
}

func TestRecorder(t *testing.T) {
	rec := NewRecorder()
	ctx := context.Background()

	var hooked int
	rec.OnSend(func(Command) { hooked++ })

	require.NoError(t, rec.Send(ctx, GoToLocation{Cfi: "c1"}))
	require.NoError(t, rec.Send(ctx, InjectScript{Script: ReplaceTextElementScript("hola", 0)}))
	require.NoError(t, rec.Send(ctx, InjectScript{Script: UpdateSectionsScript(nil)}))

	assert.Equal(t, 3, hooked)
	assert.Equal(t, 2, rec.Count(CommandInjectScript))
	assert.Equal(t, 1, rec.Count(CommandGoToLocation))

	replaced := rec.Scripts(ScriptReplaceTextElement)
	require.Len(t, replaced, 1)
	assert.Equal(t, "hola", replaced[0].Text)

	rec.Reset()
	assert.Empty(t, rec.Commands())
}
