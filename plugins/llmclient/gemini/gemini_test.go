package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catfix/pkg/contract"
)

func newClient(t *testing.T, url string) contract.LLMClient {
	t.Helper()
	raw, _ := json.Marshal(map[string]any{"api_key": "g-test", "base_url": url, "model": "gm"})
	c, err := New(raw)
	require.NoError(t, err)
	return c
}

var chat = contract.ChatPrompt{
	{Role: "system", Content: "sys"},
	{Role: "user", Content: "usr"},
	{Role: "json_schema", Content: `{"type":"object"}`},
}

func TestInvokeSuccess(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/models/gm:generateContent"), r.URL.Path)
		b, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(b, &body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"{\"a\":"},{"text":"\"b\"}"}]}}]}`)
	}))
	defer srv.Close()

	raw, err := newClient(t, srv.URL).Invoke(context.Background(), contract.FillRequest{}, chat)
	require.NoError(t, err)
	assert.Equal(t, `{"a":"b"}`, raw.Text)

	contents, _ := body["contents"].([]any)
	assert.Len(t, contents, 1, "system 与 json_schema 不进入 contents")
	assert.Contains(t, body, "systemInstruction")
	gc, _ := body["generationConfig"].(map[string]any)
	assert.Equal(t, "application/json", gc["responseMimeType"])
}

func TestInvokeErrorMapping(t *testing.T) {
	status := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, `{"error":{"code":`+strconv.Itoa(status)+`,"message":"boom","status":"X"}}`)
	}))
	defer srv.Close()
	c := newClient(t, srv.URL)

	status = http.StatusTooManyRequests
	_, err := c.Invoke(context.Background(), contract.FillRequest{}, chat)
	assert.ErrorIs(t, err, contract.ErrRateLimited)

	status = http.StatusServiceUnavailable
	_, err = c.Invoke(context.Background(), contract.FillRequest{}, chat)
	var ne net.Error
	assert.True(t, errors.As(err, &ne), "%v", err)

	status = http.StatusBadRequest
	_, err = c.Invoke(context.Background(), contract.FillRequest{}, chat)
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}

func TestInvokeEmptyCandidate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"candidates":[]}`)
	}))
	defer srv.Close()
	_, err := newClient(t, srv.URL).Invoke(context.Background(), contract.FillRequest{}, chat)
	assert.ErrorIs(t, err, contract.ErrResponseInvalid)
}

func TestEncodePrompt(t *testing.T) {
	c := &Client{respMIME: "application/json"}
	contents, cfg, err := c.encodePrompt(contract.TextPrompt("hi"))
	require.NoError(t, err)
	assert.Len(t, contents, 1)
	assert.Empty(t, cfg.ResponseMIMEType)

	contents, cfg, err = c.encodePrompt(contract.ChatPrompt{
		{Role: "system", Content: "a"},
		{Role: "System", Content: "b"},
		{Role: "user", Content: "q"},
		{Role: "assistant", Content: "r"},
	})
	require.NoError(t, err)
	require.Len(t, contents, 2)
	assert.Equal(t, "model", contents[1].Role)
	require.NotNil(t, cfg.SystemInstruction)
	assert.Equal(t, "a\n\nb", cfg.SystemInstruction.Parts[0].Text)

	_, _, err = c.encodePrompt(contract.ChatPrompt{{Role: "system", Content: "only"}})
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
	_, _, err = c.encodePrompt(3)
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}

func TestNewMissingKey(t *testing.T) {
	t.Setenv("GOOGLE_API_KEY", "")
	_, err := New(nil)
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
	_, err = New(json.RawMessage(`{"model":1}`))
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}
