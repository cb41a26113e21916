// Package cache 缓存已填充的值：同一语言对下相同源文本只送填一次。
// 实例归属于一次运行，不跨进程持久化。
package cache

import (
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"

	"catfix/pkg/contract"
)

// DefaultSize 默认容量（条目数）。
const DefaultSize = 10000

// FillCache: 以 (源语言, 目标语言, 源文本) 为键的 LRU。并发安全。
type FillCache struct {
	c      *lru.Cache[key, string]
	hits   atomic.Int64
	misses atomic.Int64
}

type key struct {
	src, tgt, value string
}

// New 构造缓存；size<=0 取 DefaultSize。
func New(size int) (*FillCache, error) {
	if size <= 0 {
		size = DefaultSize
	}
	c, err := lru.New[key, string](size)
	if err != nil {
		return nil, err
	}
	return &FillCache{c: c}, nil
}

// Split 把条目分为命中（path→缓存值）与未命中两部分；nil 接收者视为全部未命中。
func (fc *FillCache) Split(srcLang, tgtLang string, entries []contract.Entry) (hit map[string]string, miss []contract.Entry) {
	hit = map[string]string{}
	if fc == nil {
		return hit, entries
	}
	for _, e := range entries {
		if v, ok := fc.c.Get(key{srcLang, tgtLang, e.Value}); ok {
			hit[e.Key] = v
			fc.hits.Add(1)
			continue
		}
		fc.misses.Add(1)
		miss = append(miss, e)
	}
	return hit, miss
}

// Store 记录填充结果；filled 为 path→值，entries 提供 path→源文本。
func (fc *FillCache) Store(srcLang, tgtLang string, entries []contract.Entry, filled map[string]string) {
	if fc == nil {
		return
	}
	for _, e := range entries {
		if v, ok := filled[e.Key]; ok {
			fc.c.Add(key{srcLang, tgtLang, e.Value}, v)
		}
	}
}

// Stats 返回命中/未命中次数与当前条目数。
func (fc *FillCache) Stats() (hits, misses int64, size int) {
	if fc == nil {
		return 0, 0, 0
	}
	return fc.hits.Load(), fc.misses.Load(), fc.c.Len()
}
