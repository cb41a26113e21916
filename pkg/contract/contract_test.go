package contract

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNormalizeFileID 验证路径规范化逻辑。
func TestNormalizeFileID(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"系统分隔符", filepath.Join("a", "b", "c"), "a/b/c"},
		{"父目录", "./x/../y", "y"},
		{"空串", "", "."},
		{"Windows路径", "C:\\Users\\test\\fr.json", "C:/Users/test/fr.json"},
		{"清理多余斜杠", "locales//fr///app.json", "locales/fr/app.json"},
		{"混合分隔符", "locales\\de/./app.json", "locales/de/app.json"},
		{"中文路径", "项目\\文档/测试.json", "项目/文档/测试.json"},
		{"仅分隔符", "\\\\\\///", "/"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, string(NormalizeFileID(tt.input)))
		})
	}
}

func TestJoinAndSentinel(t *testing.T) {
	assert.Equal(t, "a", JoinKey("", "a"))
	assert.Equal(t, "a.b", JoinKey("a", "b"))
	assert.Equal(t, "a.2", JoinIndex("a", 2))
	assert.Equal(t, "0", JoinIndex("", 0))

	s := MissingSentinel("a.b.c")
	assert.Equal(t, "[MISSING: a.b.c]", s)
	assert.True(t, IsMissingSentinel(s))
	assert.False(t, IsMissingSentinel("Bonjour"))
}

// 带点键转义后与嵌套路径互不冲突，拆分可还原原始键
func TestJoinKeyEscapesDots(t *testing.T) {
	assert.Equal(t, `a\.b`, JoinKey("", "a.b"))
	assert.Equal(t, `x.a\.b`, JoinKey("x", "a.b"))
	assert.Equal(t, `c\\d`, JoinKey("", `c\d`))
	assert.NotEqual(t, JoinKey("", "a.b"), JoinKey(JoinKey("", "a"), "b"))

	for _, segs := range [][]string{
		{"a", "b"},
		{"a.b"},
		{"x", "menu.file.open", "0"},
		{`c\d`, "e."},
	} {
		p := ""
		for _, s := range segs {
			p = JoinKey(p, s)
		}
		assert.Equal(t, segs, SplitPath(p), p)
	}
	assert.Nil(t, SplitPath(""))
}

// TestValidateTranslations 缺失与多余键的对齐。
func TestValidateTranslations(t *testing.T) {
	entries := []Entry{{Key: "a", Value: "A"}, {Key: "b", Value: "B"}, {Key: "c", Value: "C"}}
	kept, missing := ValidateTranslations(entries, map[string]string{"a": "x", "c": "z", "zz": "extra"})
	assert.Equal(t, map[string]string{"a": "x", "c": "z"}, kept)
	assert.Equal(t, []string{"b"}, missing)

	kept, missing = ValidateTranslations(entries, nil)
	assert.Empty(t, kept)
	assert.Equal(t, []string{"a", "b", "c"}, missing)
}

// TestFillJobTransitions 状态机合法/非法边。
func TestFillJobTransitions(t *testing.T) {
	now := time.Unix(0, 0)
	j := NewFillJob("id", "fr.json", now)
	require.Equal(t, StatusPending, j.Status)
	require.NoError(t, j.Transition(StatusFixing, now))
	require.NoError(t, j.Transition(StatusTranslating, now))
	require.NoError(t, j.Transition(StatusCompleted, now.Add(time.Second)))
	assert.Equal(t, now.Add(time.Second), j.FinishedAt)

	err := j.Transition(StatusFixing, now)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTransition))

	j2 := NewFillJob("id2", "de.json", now)
	require.NoError(t, j2.Transition(StatusFixing, now))
	require.NoError(t, j2.Transition(StatusCompleted, now), "无缺失键时可直接完成")

	j3 := NewFillJob("id3", "bad.json", now)
	require.NoError(t, j3.Transition(StatusFailed, now), "解析失败直接进入 failed")
	assert.True(t, j3.Status.Terminal())
}

func TestBatchKeys(t *testing.T) {
	b := Batch{Entries: []Entry{{Key: "x"}, {Key: "y"}}}
	assert.Equal(t, []string{"x", "y"}, b.Keys())
}

func BenchmarkNormalizeFileID(b *testing.B) {
	paths := []string{
		"C:\\Users\\test\\Documents\\fr.json",
		"src/main/../../locales/de.json",
		"path//to///many////slashes/app.json",
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for _, p := range paths {
			NormalizeFileID(p)
		}
	}
}
