// Package flatten 将嵌套 JSON 文档展开为有序叶子列表。
package flatten

import (
	"strconv"

	"catfix/pkg/contract"
	"catfix/pkg/jsonv"
)

// Flatten 深度优先、父先于子地展开 doc 的字符串叶子。
// 约束：
//   - 纯函数，不修改输入，同输入同输出；
//   - 对象按插入顺序，数组按下标升序；
//   - 数字/布尔/null 叶子跳过（不产出、不报错）；
//   - 根为字符串时产出空路径条目。
func Flatten(doc jsonv.Value) []contract.FlatEntry {
	out := make([]contract.FlatEntry, 0, 16)
	walk(doc, "", 0, &out)
	return out
}

func walk(v jsonv.Value, path string, depth int, out *[]contract.FlatEntry) {
	switch v.Kind() {
	case jsonv.String:
		s, _ := v.Str()
		*out = append(*out, contract.FlatEntry{Path: path, Value: s, Depth: depth, Index: len(*out)})
	case jsonv.Object:
		for _, m := range v.Obj().Members() {
			walk(m.Value, contract.JoinKey(path, m.Key), depth+1, out)
		}
	case jsonv.Array:
		for i, it := range v.Items() {
			walk(it, contract.JoinIndex(path, i), depth+1, out)
		}
	}
}

// Lookup 按点号路径（键段可含转义，见 contract.JoinKey）读取值；任一段不存在时返回 (Value{}, false)。
// 数组段必须为十进制下标。
func Lookup(doc jsonv.Value, path string) (jsonv.Value, bool) {
	if path == "" {
		return doc, doc.Exists()
	}
	cur := doc
	for _, seg := range contract.SplitPath(path) {
		switch cur.Kind() {
		case jsonv.Object:
			next, ok := cur.Obj().Get(seg)
			if !ok {
				return jsonv.Value{}, false
			}
			cur = next
		case jsonv.Array:
			i, err := strconv.Atoi(seg)
			items := cur.Items()
			if err != nil || i < 0 || i >= len(items) {
				return jsonv.Value{}, false
			}
			cur = items[i]
		default:
			return jsonv.Value{}, false
		}
	}
	return cur, true
}

// Index 构造 path→entry 映射。
func Index(entries []contract.FlatEntry) map[string]contract.FlatEntry {
	m := make(map[string]contract.FlatEntry, len(entries))
	for _, e := range entries {
		m[e.Path] = e
	}
	return m
}

// Entries 依给定路径顺序从展开列表中取出待填充条目（路径不存在者跳过）。
func Entries(flat []contract.FlatEntry, paths []string) []contract.Entry {
	idx := Index(flat)
	out := make([]contract.Entry, 0, len(paths))
	for _, p := range paths {
		if e, ok := idx[p]; ok {
			out = append(out, contract.Entry{Key: e.Path, Value: e.Value})
		}
	}
	return out
}

// Paths 返回条目路径（保持顺序）。
func Paths(entries []contract.FlatEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Path
	}
	return out
}
