package translate_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lectern/internal/translate"
)

func googleServer(t *testing.T, statuses ...int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1)) - 1
		if n < len(statuses) && statuses[n] != http.StatusOK {
			w.WriteHeader(statuses[n])
			_, _ = w.Write([]byte(`{"error":{"message":"nope"}}`))
			return
		}

		assert.Equal(t, "secret", r.URL.Query().Get("key"))
		var req struct {
			Q      []string `json:"q"`
			Target string   `json:"target"`
			Format string   `json:"format"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "es", req.Target)
		assert.Equal(t, "text", req.Format)

		var resp struct {
			Data struct {
				Translations []map[string]string `json:"translations"`
			} `json:"data"`
		}
		for _, q := range req.Q {
			resp.Data.Translations = append(resp.Data.Translations, map[string]string{"translatedText": "es:" + q})
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newGoogle(url string) *translate.Google {
	return translate.NewGoogle(translate.GoogleConfig{
		APIKey:     "secret",
		Target:     "es",
		BaseURL:    url,
		MaxRetries: 2,
		RetryDelay: time.Millisecond,
	})
}

func TestGoogle_Translate(t *testing.T) {
	srv, calls := googleServer(t)

	out, err := newGoogle(srv.URL).Translate(context.Background(), []string{"one", "two"})
	require.NoError(t, err)
	assert.Equal(t, []string{"es:one", "es:two"}, out)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGoogle_RetriesRateLimit(t *testing.T) {
	srv, calls := googleServer(t, http.StatusTooManyRequests, http.StatusServiceUnavailable)

	out, err := newGoogle(srv.URL).Translate(context.Background(), []string{"one"})
	require.NoError(t, err)
	assert.Equal(t, []string{"es:one"}, out)
	assert.Equal(t, int32(3), calls.Load())
}

func TestGoogle_ClientErrorNotRetried(t *testing.T) {
	srv, calls := googleServer(t, http.StatusBadRequest)

	_, err := newGoogle(srv.URL).Translate(context.Background(), []string{"one"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
	assert.Equal(t, int32(1), calls.Load())
}

func TestGoogle_EmptyInput(t *testing.T) {
	out, err := newGoogle("http://127.0.0.1:1").Translate(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func openAIServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "test-model", req["model"])

		w.Header().Set("Content-Type", "application/json")
		body, _ := json.Marshal(content)
		fmt.Fprintf(w, `{"id":"c1","object":"chat.completion","created":0,"model":"test-model",`+
			`"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":%s}}]}`, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newOpenAI(url string) *translate.OpenAI {
	return translate.NewOpenAI(translate.OpenAIConfig{
		APIKey:  "sk-test",
		BaseURL: url + "/",
		Model:   "test-model",
		Target:  "French",
	})
}

func TestOpenAI_Translate(t *testing.T) {
	srv := openAIServer(t, "```json\n[\"un\", \"deux\"]\n```")

	out, err := newOpenAI(srv.URL).Translate(context.Background(), []string{"one", "two"})
	require.NoError(t, err)
	assert.Equal(t, []string{"un", "deux"}, out)
}

func TestOpenAI_LengthMismatch(t *testing.T) {
	srv := openAIServer(t, `["un"]`)

	_, err := newOpenAI(srv.URL).Translate(context.Background(), []string{"one", "two"})
	assert.ErrorIs(t, err, translate.ErrLengthMismatch)
}

func TestOpenAI_NotAnArray(t *testing.T) {
	srv := openAIServer(t, "I cannot do that")

	_, err := newOpenAI(srv.URL).Translate(context.Background(), []string{"one"})
	assert.Error(t, err)
}

func TestLimited_GatesCalls(t *testing.T) {
	mock := translate.NewMock()
	limited := translate.NewLimited(mock, 2)

	ctx := context.Background()
	_, err := limited.Translate(ctx, []string{"a"})
	require.NoError(t, err)
	_, err = limited.Translate(ctx, []string{"b"})
	require.NoError(t, err)

	assert.False(t, limited.Limiter().TryConsume(), "bucket drained")

	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err = limited.Translate(short, []string{"c"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, mock.Calls(), 2)
	assert.Equal(t, int64(2), limited.Limiter().Status().TotalConsumed)
}

func TestMock_Transform(t *testing.T) {
	mock := translate.NewMock()
	mock.Transform = func(s string) string { return s + "!" }

	out, err := mock.Translate(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a!", "b!"}, out)
}

func TestNewTranslator(t *testing.T) {
	tr, err := translate.NewTranslator(translate.ProviderConfig{Provider: "mock"})
	require.NoError(t, err)
	assert.IsType(t, &translate.Mock{}, tr)

	tr, err = translate.NewTranslator(translate.ProviderConfig{Provider: "openai", RequestsPerMinute: 30})
	require.NoError(t, err)
	assert.IsType(t, &translate.Limited{}, tr)

	_, err = translate.NewTranslator(translate.ProviderConfig{Provider: "babelfish"})
	assert.Error(t, err)
}
