package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catfix/pkg/contract"
)

func newFiller(t *testing.T, url string, extra string) *Filler {
	t.Helper()
	f, err := New(json.RawMessage(`{"endpoint":"` + url + `"` + extra + `}`))
	require.NoError(t, err)
	return f
}

var req = contract.FillRequest{
	SourceLanguage: "en",
	TargetLanguage: "fr",
	Entries:        []contract.Entry{{Key: "a.b", Value: "Hello"}},
	Options:        contract.FillOptions{PreservePlaceholders: true, MinLength: 2},
}

func TestFillWireFormat(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer k1", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		b, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(b, &got))
		_, _ = io.WriteString(w, `{"translations":{"a.b":"Bonjour"}}`)
	}))
	defer srv.Close()

	resp, err := newFiller(t, srv.URL, `,"api_key":"k1"`).Fill(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a.b": "Bonjour"}, resp.Translations)

	assert.Equal(t, "en", got["sourceLanguage"])
	assert.Equal(t, "fr", got["targetLanguage"])
	assert.Equal(t, []any{map[string]any{"key": "a.b", "value": "Hello"}}, got["entries"])
	assert.Equal(t, map[string]any{
		"preservePlaceholders": true, "skipHtml": false, "skipShortValues": false,
		"minLength": float64(2), "includeKeys": false,
	}, got["options"])
}

func TestFillCustomAuthHeader(t *testing.T) {
	t.Setenv("FILL_KEY", "envkey")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "envkey", r.Header.Get("X-Api-Key"))
		assert.Empty(t, r.Header.Get("Authorization"))
		assert.Equal(t, "1", r.Header.Get("X-Trace"))
		_, _ = io.WriteString(w, `{"translations":{}}`)
	}))
	defer srv.Close()
	_, err := newFiller(t, srv.URL, `,"api_key_env":"FILL_KEY","auth_header":"X-Api-Key","extra_headers":{"X-Trace":"1"}`).Fill(context.Background(), req)
	require.NoError(t, err)
}

func TestFillStatusMapping(t *testing.T) {
	status := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, "nope")
	}))
	defer srv.Close()
	f := newFiller(t, srv.URL, "")

	status = http.StatusTooManyRequests
	_, err := f.Fill(context.Background(), req)
	assert.ErrorIs(t, err, contract.ErrRateLimited)

	status = http.StatusInternalServerError
	_, err = f.Fill(context.Background(), req)
	assert.ErrorIs(t, err, contract.ErrFillService)
	var ne net.Error
	assert.True(t, errors.As(err, &ne))
	var ue contract.UpstreamError
	require.True(t, errors.As(err, &ue))
	assert.Equal(t, 500, ue.UpstreamStatus())
	assert.Equal(t, "nope", ue.UpstreamMessage())

	status = http.StatusBadRequest
	_, err = f.Fill(context.Background(), req)
	assert.ErrorIs(t, err, contract.ErrFillService)
}

func TestFillBadBody(t *testing.T) {
	body := ""
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, body)
	}))
	defer srv.Close()
	f := newFiller(t, srv.URL, "")
	for _, b := range []string{"garbage", `{"other":1}`, `{"translations":["x"]}`} {
		body = b
		_, err := f.Fill(context.Background(), req)
		assert.ErrorIs(t, err, contract.ErrResponseInvalid, b)
	}
}

func TestFillTransportAndCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()
	_, err := newFiller(t, url, "").Fill(context.Background(), req)
	assert.ErrorIs(t, err, contract.ErrFillService)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = newFiller(t, url, "").Fill(ctx, req)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewValidation(t *testing.T) {
	for _, raw := range []string{``, `{}`, `{"endpoint":"ftp://x"}`, `{"endpoint":1}`} {
		_, err := New(json.RawMessage(raw))
		assert.ErrorIs(t, err, contract.ErrInvalidInput, raw)
	}
}
