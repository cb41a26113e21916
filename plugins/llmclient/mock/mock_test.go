package mock

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catfix/pkg/contract"
)

var req = contract.FillRequest{
	SourceLanguage: "en",
	TargetLanguage: "fr",
	Entries:        []contract.Entry{{Key: "a.b", Value: "Hello"}, {Key: "l.0", Value: "x"}},
}

func TestTranslationsMode(t *testing.T) {
	c, err := New(json.RawMessage(`{"prefix":"X"}`))
	require.NoError(t, err)
	raw, err := c.Invoke(context.Background(), req, contract.TextPrompt("hi"))
	require.NoError(t, err)
	var got struct {
		Translations map[string]string `json:"translations"`
	}
	require.NoError(t, json.Unmarshal([]byte(raw.Text), &got))
	assert.Equal(t, map[string]string{"a.b": "X: Hello", "l.0": "X: x"}, got.Translations)
}

func TestFlatAndEchoModes(t *testing.T) {
	c, err := New(json.RawMessage(`{"response_mode":"flat"}`))
	require.NoError(t, err)
	raw, _ := c.Invoke(context.Background(), req, nil)
	assert.JSONEq(t, `{"a.b":"MOCK: Hello","l.0":"MOCK: x"}`, raw.Text)

	c, err = New(json.RawMessage(`{"response_mode":"echo"}`))
	require.NoError(t, err)
	raw, _ = c.Invoke(context.Background(), req, nil)
	assert.JSONEq(t, `{"translations":{"a.b":"Hello","l.0":"x"}}`, raw.Text)
}

func TestPromptMode(t *testing.T) {
	c, err := New(json.RawMessage(`{"response_mode":"prompt","prefix":"P"}`))
	require.NoError(t, err)
	raw, _ := c.Invoke(context.Background(), req, contract.TextPrompt("hi"))
	assert.Equal(t, "P(text): hi", raw.Text)
	raw, _ = c.Invoke(context.Background(), req, contract.ChatPrompt{{Role: "system", Content: "s"}})
	assert.Equal(t, "P(chat:system): s", raw.Text)
	raw, _ = c.Invoke(context.Background(), req, contract.ChatPrompt{})
	assert.Equal(t, "P(chat): <empty>", raw.Text)
	raw, _ = c.Invoke(context.Background(), req, 1)
	assert.Equal(t, "P(unknown prompt type)", raw.Text)
}

func TestNewErrorsAndCancel(t *testing.T) {
	_, err := New(json.RawMessage(`{"response_mode":"line_map"}`))
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
	_, err = New(json.RawMessage(`[`))
	assert.ErrorIs(t, err, contract.ErrInvalidInput)

	c, _ := New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Invoke(ctx, req, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
