package pipeline_test

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	cfgpkg "catfix/internal/config"
	"catfix/internal/pipeline"
)

// writeCatalog 生成 groups×keys 个叶子的目录文件；every>0 时只保留每 every 个中的一个。
func writeCatalog(t *testing.T, path string, groups, keys, every int) {
	t.Helper()
	var b strings.Builder
	b.WriteString("{")
	for g := 0; g < groups; g++ {
		if g > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, "%q:{", fmt.Sprintf("group%03d", g))
		first := true
		for k := 0; k < keys; k++ {
			if every > 0 && k%every != 0 {
				continue
			}
			if !first {
				b.WriteString(",")
			}
			first = false
			fmt.Fprintf(&b, "%q:%q", fmt.Sprintf("key%03d", k), fmt.Sprintf("Text %d/%d", g, k))
		}
		b.WriteString("}")
	}
	b.WriteString("}")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
}

// TestStress 在不同并发度下运行流水线并记录延迟统计。
func TestStress(t *testing.T) {
	if testing.Short() {
		t.Skip("stress")
	}
	dataDir := t.TempDir()
	src := filepath.Join(dataDir, "en.json")
	writeCatalog(t, src, 40, 50, 0)
	var targets []string
	for _, lang := range []string{"fr", "de", "es", "it"} {
		p := filepath.Join(dataDir, lang+".json")
		writeCatalog(t, p, 40, 50, 3)
		targets = append(targets, p)
	}

	for _, conc := range []int{1, 8, 32} {
		t.Run(fmt.Sprintf("concurrency_%d", conc), func(t *testing.T) {
			const runs = 3
			latencies := make([]time.Duration, 0, runs)
			for i := 0; i < runs; i++ {
				cfg := baseConfig(t.TempDir(), targets...)
				cfg.Source = src
				cfg.FileConcurrency = 2
				cfg.Dispatch.Concurrency = conc
				cfg.Dispatch.BatchSize = 25
				cfg.LLM = "mock"
				cfg.Provider["mock"] = cfgpkg.Provider{Client: "mock", Options: json.RawMessage(`{"prefix":"STRESS"}`)}

				start := time.Now()
				sum, err := runPipeline(t, cfg, pipeline.ModeTranslate)
				require.NoError(t, err)
				require.Equal(t, len(targets), sum.Completed)
				require.Zero(t, sum.FailedKeys)
				latencies = append(latencies, time.Since(start))
			}
			sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
			var total time.Duration
			for _, d := range latencies {
				total += d
			}
			avg := total / time.Duration(len(latencies))
			idx := max(int(math.Ceil(float64(len(latencies))*0.95))-1, 0)
			t.Logf("并发%d 平均%v 95%%延迟%v", conc, avg, latencies[idx])
		})
	}
}
