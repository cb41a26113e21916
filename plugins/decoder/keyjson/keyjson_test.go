package keyjson

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catfix/pkg/contract"
)

func req() contract.FillRequest {
	return contract.FillRequest{
		SourceLanguage: "en",
		TargetLanguage: "fr",
		Entries:        []contract.Entry{{Key: "a.b", Value: "Hello"}, {Key: "a.c", Value: "World"}},
	}
}

func decode(t *testing.T, raw json.RawMessage, text string) (map[string]string, error) {
	t.Helper()
	d, err := New(raw)
	require.NoError(t, err)
	return d.Decode(context.Background(), req(), contract.Raw{Text: text})
}

func TestDecodeWrapped(t *testing.T) {
	got, err := decode(t, nil, `{"translations":{"a.b":"Bonjour","a.c":"Monde","zz":"ignored"}}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a.b": "Bonjour", "a.c": "Monde"}, got)
}

func TestDecodeFlatAndPartial(t *testing.T) {
	got, err := decode(t, nil, `{"a.c":"Monde"}`)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a.c": "Monde"}, got)
}

func TestDecodeInvalid(t *testing.T) {
	cases := map[string]string{
		"not json":     "not",
		"array":        `[{"id":1,"text":"x"}]`,
		"bad wrapper":  `{"translations":["x"]}`,
		"null wrapper": `{"translations":null}`,
		"non-string":   `{"a.b":1}`,
		"empty text":   `{"a.b":"  "}`,
		"fenced":       "```json\n{\"a.b\":\"Bonjour\"}\n```",
	}
	for name, text := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := decode(t, nil, text)
			assert.ErrorIs(t, err, contract.ErrResponseInvalid)
		})
	}
}

func TestDecodeStripFences(t *testing.T) {
	got, err := decode(t, json.RawMessage(`{"strip_fences":true}`), "```json\n{\"a.b\":\"Bonjour\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a.b": "Bonjour"}, got)
}

func sentences() contract.FillRequest {
	return contract.FillRequest{
		SourceLanguage: "en",
		TargetLanguage: "fr",
		Entries: []contract.Entry{
			{Key: "intro.title", Value: "Welcome to the app"},
			{Key: "intro.body", Value: "Your files are synced"},
			{Key: "btn.ok", Value: "OK"},
		},
	}
}

func TestDecodeEcho(t *testing.T) {
	d, _ := New(nil)
	echoed := `{"intro.title":" Welcome to the app ","intro.body":"Your files are synced","btn.ok":"OK"}`
	_, err := d.Decode(context.Background(), sentences(), contract.Raw{Text: echoed})
	assert.ErrorIs(t, err, contract.ErrResponseInvalid)

	// 部分回显合法
	got, err := d.Decode(context.Background(), sentences(), contract.Raw{Text: `{"intro.title":"Bienvenue","intro.body":"Your files are synced","btn.ok":"OK"}`})
	require.NoError(t, err)
	assert.Len(t, got, 3)

	off, _ := New(json.RawMessage(`{"detect_echo":false}`))
	got, err = off.Decode(context.Background(), sentences(), contract.Raw{Text: echoed})
	require.NoError(t, err)
	assert.Equal(t, "OK", got["btn.ok"])

	// 同语言不判回显
	r := sentences()
	r.TargetLanguage = "EN"
	_, err = d.Decode(context.Background(), r, contract.Raw{Text: echoed})
	require.NoError(t, err)
}

// 与原文相同的短词条是合法译文
func TestDecodeIdenticalShortValues(t *testing.T) {
	d, _ := New(nil)
	one := contract.FillRequest{SourceLanguage: "en", TargetLanguage: "fr", Entries: []contract.Entry{{Key: "btn.ok", Value: "OK"}}}
	got, err := d.Decode(context.Background(), one, contract.Raw{Text: `{"btn.ok":"OK"}`})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"btn.ok": "OK"}, got)

	words := contract.FillRequest{SourceLanguage: "en", TargetLanguage: "fr", Entries: []contract.Entry{
		{Key: "form.email", Value: "Email"},
		{Key: "brand", Value: "Google Drive"},
		{Key: "link", Value: "https://example.com/help"},
		{Key: "count", Value: "{count}"},
	}}
	got, err = d.Decode(context.Background(), words, contract.Raw{Text: `{"form.email":"Email","brand":"Google Drive","link":"https://example.com/help","count":"{count}"}`})
	require.NoError(t, err)
	assert.Len(t, got, 4)
}

func TestDecodeCanceledAndBadOptions(t *testing.T) {
	_, err := New(json.RawMessage(`{"strip_fences":"yes"}`))
	assert.ErrorIs(t, err, contract.ErrInvalidInput)

	d, _ := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.Decode(ctx, req(), contract.Raw{Text: `{}`})
	assert.ErrorIs(t, err, context.Canceled)
}

func BenchmarkDecode(b *testing.B) {
	r := contract.FillRequest{SourceLanguage: "en", TargetLanguage: "fr"}
	body := map[string]string{}
	for i := 0; i < 200; i++ {
		k := "k." + strconv.Itoa(i)
		r.Entries = append(r.Entries, contract.Entry{Key: k, Value: "v"})
		body[k] = "t"
	}
	text, _ := json.Marshal(map[string]any{"translations": body})
	d, _ := New(nil)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = d.Decode(context.Background(), r, contract.Raw{Text: string(text)})
	}
}
