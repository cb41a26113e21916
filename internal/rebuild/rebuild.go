// Package rebuild 依据源文档拓扑与目标文档的既有值重建修复后的文档。
package rebuild

import (
	"catfix/pkg/contract"
	"catfix/pkg/jsonv"
)

// Options: 重建选项。
type Options struct {
	// KeepExtraKeys: 保留目标中源不存在的键（追加在源顺序键之后）；否则丢弃。
	KeepExtraKeys bool
}

// Rebuild 重建文档。
// 规则（目标值优先、源拓扑权威）：
//  1. 每一层的形状与键顺序取自 src；
//  2. tgt 在某路径上存在值时原样拷贝（含非字符串类型）；两侧同为对象或同为数组时递归而非整体覆盖；
//  3. tgt 在该路径无值（键缺失或祖先缺失）时：字符串叶子取 filled[path]，否则写入 "[MISSING: path]"；
//     非字符串标量直接取源值；
//  4. 数组逐下标独立处理，部分填充合法；
//  5. KeepExtraKeys 时把目标独有的键/尾部元素追加在后。
//
// 纯函数：不修改 src/tgt/filled；tgt 可为零值（整份目标缺失）。
func Rebuild(src, tgt jsonv.Value, filled map[string]string, opts Options) jsonv.Value {
	return build(src, tgt, "", filled, opts)
}

// Holes 返回 Rebuild 会向 filled 取值的字符串叶子路径（源文档顺序）。
// 目标在某路径或其祖先上已有值（含 null、非字符串、形状不同的容器）时，该路径不在其中：
// 重建时保留目标值，为其填充的结果不会落地。
func Holes(src, tgt jsonv.Value) []string {
	var out []string
	holes(src, tgt, "", &out)
	return out
}

func holes(src, tgt jsonv.Value, path string, out *[]string) {
	if tgt.Exists() && !sameComposite(src, tgt) {
		return
	}
	switch src.Kind() {
	case jsonv.Object:
		t := tgt.Obj()
		for _, m := range src.Obj().Members() {
			child, _ := t.Get(m.Key)
			holes(m.Value, child, contract.JoinKey(path, m.Key), out)
		}
	case jsonv.Array:
		titems := tgt.Items()
		for i, it := range src.Items() {
			var child jsonv.Value
			if i < len(titems) {
				child = titems[i]
			}
			holes(it, child, contract.JoinIndex(path, i), out)
		}
	case jsonv.String:
		*out = append(*out, path)
	}
}

func build(src, tgt jsonv.Value, path string, filled map[string]string, opts Options) jsonv.Value {
	if tgt.Exists() && !sameComposite(src, tgt) {
		return tgt.Clone()
	}
	switch src.Kind() {
	case jsonv.Object:
		return buildObject(src.Obj(), tgt.Obj(), path, filled, opts)
	case jsonv.Array:
		return buildArray(src.Items(), tgt, path, filled, opts)
	case jsonv.String:
		if v, ok := filled[path]; ok {
			return jsonv.StringValue(v)
		}
		return jsonv.StringValue(contract.MissingSentinel(path))
	default:
		// 数字/布尔/null 不在填充范围内，按源值保留
		return src
	}
}

func buildObject(src, tgt *jsonv.Obj, path string, filled map[string]string, opts Options) jsonv.Value {
	out := jsonv.NewObj()
	for _, m := range src.Members() {
		child, _ := tgt.Get(m.Key)
		out.Set(m.Key, build(m.Value, child, contract.JoinKey(path, m.Key), filled, opts))
	}
	if opts.KeepExtraKeys {
		for _, m := range tgt.Members() {
			if !src.Has(m.Key) {
				out.Set(m.Key, m.Value.Clone())
			}
		}
	}
	return jsonv.FromObj(out)
}

func buildArray(src []jsonv.Value, tgt jsonv.Value, path string, filled map[string]string, opts Options) jsonv.Value {
	titems := tgt.Items()
	out := make([]jsonv.Value, 0, len(src))
	for i, it := range src {
		var child jsonv.Value
		if i < len(titems) {
			child = titems[i]
		}
		out = append(out, build(it, child, contract.JoinIndex(path, i), filled, opts))
	}
	if opts.KeepExtraKeys {
		for i := len(src); i < len(titems); i++ {
			out = append(out, titems[i].Clone())
		}
	}
	return jsonv.ArrayValue(out...)
}

// sameComposite: 两侧同为对象或同为数组。
func sameComposite(a, b jsonv.Value) bool {
	return a.IsComposite() && a.Kind() == b.Kind()
}
