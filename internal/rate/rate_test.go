package rate

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catfix/pkg/contract"
)

// UT-RTE-01: 超过 RPM/EPM
func TestGateTryLimit(t *testing.T) {
	now := time.Unix(0, 0)
	clk := func() time.Time { return now }
	g := NewGate(map[LimitKey]Limits{"k": {RPM: 1, EPM: 100, MaxEntriesPerReq: 50}}, clk)
	require.True(t, g.Try(Ask{Key: "k", Requests: 1, Entries: 30}), "首次应通过")
	assert.False(t, g.Try(Ask{Key: "k", Requests: 1, Entries: 30}), "应因 RPM 拒绝")

	now = now.Add(time.Minute)
	assert.True(t, g.Try(Ask{Key: "k", Requests: 1, Entries: 30}), "补充后应通过")
}

// UT-RTE-02: 取消上下文
func TestGateWaitCancel(t *testing.T) {
	now := time.Unix(0, 0)
	clk := func() time.Time { return now }
	g := NewGate(map[LimitKey]Limits{"k": {RPM: 1}}, clk)
	require.NoError(t, g.Wait(context.Background(), Ask{Key: "k", Requests: 1}))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	err := g.Wait(ctx, Ask{Key: "k", Requests: 1})
	assert.ErrorIs(t, err, context.Canceled)
}

// UT-RTE-03: 单请求条目上限快速失败
func TestGateMaxEntriesPerReq(t *testing.T) {
	g := NewGate(map[LimitKey]Limits{"k": {MaxEntriesPerReq: 10}}, nil)
	err := g.Wait(context.Background(), Ask{Key: "k", Requests: 1, Entries: 11})
	assert.True(t, errors.Is(err, contract.ErrBudgetExceeded))
	assert.False(t, g.Try(Ask{Key: "k", Requests: 1, Entries: 11}))
	assert.ErrorIs(t, g.Wait(context.Background(), Ask{Key: "k"}), contract.ErrInvalidInput)
}

// UT-RTE-04: 未配置的 key 不限额；超过桶容量的申请在满桶时放行
func TestGateUnknownKeyAndOversize(t *testing.T) {
	now := time.Unix(0, 0)
	g := NewGate(map[LimitKey]Limits{"k": {EPM: 10}}, func() time.Time { return now })
	for i := 0; i < 100; i++ {
		require.True(t, g.Try(Ask{Key: "other", Requests: 1, Entries: 1000}))
	}
	assert.True(t, g.Try(Ask{Key: "k", Requests: 1, Entries: 25}))
	rpm, epm := g.(Snapshoter).Snapshot("k")
	assert.Equal(t, 0, rpm)
	assert.Equal(t, 0, epm)
}

func TestGateSnapshotRefill(t *testing.T) {
	now := time.Unix(0, 0)
	g := NewGate(map[LimitKey]Limits{"k": {RPM: 60, EPM: 120}}, func() time.Time { return now })
	require.True(t, g.Try(Ask{Key: "k", Requests: 1, Entries: 20}))
	rpm, epm := g.(Snapshoter).Snapshot("k")
	assert.Equal(t, 59, rpm)
	assert.Equal(t, 100, epm)

	now = now.Add(time.Second)
	rpm, epm = g.(Snapshoter).Snapshot("k")
	assert.Equal(t, 60, rpm, "补满后不超过容量")
	assert.Equal(t, 102, epm)

	// 时钟回拨不产生额度
	now = now.Add(-time.Hour)
	_, epm = g.(Snapshoter).Snapshot("k")
	assert.Equal(t, 100, epm)
}

func TestSleepCtx(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, SleepCtx(ctx, time.Second), context.Canceled)
	assert.NoError(t, SleepCtx(context.Background(), time.Millisecond))
}

func TestDeriveKeyFromProviderOptions(t *testing.T) {
	t.Setenv("TEST_KEY", "abc")
	raw, _ := json.Marshal(map[string]any{"api_key_env": "TEST_KEY"})
	k, err := DeriveKeyFromProviderOptions("openai", raw)
	require.NoError(t, err)
	k2, err := DeriveKeyFromProviderOptions("openai", json.RawMessage(`{"api_key":"abc"}`))
	require.NoError(t, err)
	assert.Equal(t, k, k2, "同一凭据应落在同一分组")

	_, err = DeriveKeyFromProviderOptions("openai", json.RawMessage(`{}`))
	assert.Error(t, err, "缺少 key 应失败")

	mk, err := DeriveKeyFromProviderOptions("mock", nil)
	require.NoError(t, err)
	assert.Contains(t, string(mk), "mock:")

	hk, err := DeriveKeyFromProviderOptions("httpapi", json.RawMessage(`{"endpoint":"http://x/api/translate"}`))
	require.NoError(t, err)
	assert.Contains(t, string(hk), "httpapi:")
}
