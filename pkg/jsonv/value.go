package jsonv

import (
	"strconv"
)

// Kind: JSON 值的标签。零值 Invalid 表示“缺失”（区别于显式 null）。
type Kind uint8

const (
	Invalid Kind = iota
	Null
	Bool
	Number
	String
	Array
	Object
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Bool:
		return "bool"
	case Number:
		return "number"
	case String:
		return "string"
	case Array:
		return "array"
	case Object:
		return "object"
	default:
		return "invalid"
	}
}

// Value: JSON 文档的显式和类型（tagged union）。
// 约束：
//   - 对象保持插入顺序；
//   - Number 保存原始字面量，重建时不做格式化；
//   - 零值 Value{} 为 Invalid，表示该路径上不存在值。
type Value struct {
	kind Kind
	b    bool
	s    string // String 的内容或 Number 的字面量
	arr  []Value
	obj  *Obj
}

// Member: 对象成员（键 + 值）。
type Member struct {
	Key   string
	Value Value
}

// Obj: 有序对象。键唯一；重复 Set 覆盖原位置的值。
type Obj struct {
	members []Member
	idx     map[string]int
}

// NewObj 创建空的有序对象。
func NewObj() *Obj {
	return &Obj{idx: make(map[string]int)}
}

// Set 写入键值；已存在的键保留原位置。
func (o *Obj) Set(key string, v Value) {
	if i, ok := o.idx[key]; ok {
		o.members[i].Value = v
		return
	}
	o.idx[key] = len(o.members)
	o.members = append(o.members, Member{Key: key, Value: v})
}

// Get 按键读取；不存在时返回 (Value{}, false)。
func (o *Obj) Get(key string) (Value, bool) {
	if o == nil {
		return Value{}, false
	}
	i, ok := o.idx[key]
	if !ok {
		return Value{}, false
	}
	return o.members[i].Value, true
}

// Has 判断键是否存在。
func (o *Obj) Has(key string) bool {
	if o == nil {
		return false
	}
	_, ok := o.idx[key]
	return ok
}

// Len 返回成员数。
func (o *Obj) Len() int {
	if o == nil {
		return 0
	}
	return len(o.members)
}

// Keys 按插入顺序返回键。
func (o *Obj) Keys() []string {
	if o == nil {
		return nil
	}
	out := make([]string, len(o.members))
	for i, m := range o.members {
		out[i] = m.Key
	}
	return out
}

// Members 返回成员的只读视图（调用方不得修改）。
func (o *Obj) Members() []Member {
	if o == nil {
		return nil
	}
	return o.members
}

// 构造函数 ----------------------------------------------------

func NullValue() Value { return Value{kind: Null} }
func BoolValue(b bool) Value { return Value{kind: Bool, b: b} }
func StringValue(s string) Value { return Value{kind: String, s: s} }
func NumberLiteral(l string) Value { return Value{kind: Number, s: l} }

// NumberValue 以最短往返表示构造数字。
func NumberValue(f float64) Value {
	return Value{kind: Number, s: strconv.FormatFloat(f, 'g', -1, 64)}
}

// ArrayValue 构造数组（拷贝切片头，元素按值共享）。
func ArrayValue(items ...Value) Value {
	out := make([]Value, len(items))
	copy(out, items)
	return Value{kind: Array, arr: out}
}

// ObjectValue 由有序成员构造对象；重复键以后者为准、位置取首次出现。
func ObjectValue(members ...Member) Value {
	o := NewObj()
	for _, m := range members {
		o.Set(m.Key, m.Value)
	}
	return Value{kind: Object, obj: o}
}

// FromObj 包装已有对象。
func FromObj(o *Obj) Value {
	if o == nil {
		o = NewObj()
	}
	return Value{kind: Object, obj: o}
}

// 访问器 ------------------------------------------------------

func (v Value) Kind() Kind { return v.kind }
func (v Value) Exists() bool { return v.kind != Invalid }
func (v Value) IsComposite() bool { return v.kind == Array || v.kind == Object }

// Str 返回字符串内容；非 String 时 ok=false。
func (v Value) Str() (string, bool) {
	if v.kind != String {
		return "", false
	}
	return v.s, true
}

// BoolVal 返回布尔值；非 Bool 时 ok=false。
func (v Value) BoolVal() (bool, bool) {
	if v.kind != Bool {
		return false, false
	}
	return v.b, true
}

// Literal 返回数字字面量；非 Number 时 ok=false。
func (v Value) Literal() (string, bool) {
	if v.kind != Number {
		return "", false
	}
	return v.s, true
}

// Items 返回数组元素的只读视图。
func (v Value) Items() []Value {
	if v.kind != Array {
		return nil
	}
	return v.arr
}

// Obj 返回对象；非 Object 时为 nil。
func (v Value) Obj() *Obj {
	if v.kind != Object {
		return nil
	}
	return v.obj
}

// Clone 深拷贝。
func (v Value) Clone() Value {
	switch v.kind {
	case Array:
		out := make([]Value, len(v.arr))
		for i, it := range v.arr {
			out[i] = it.Clone()
		}
		return Value{kind: Array, arr: out}
	case Object:
		o := NewObj()
		for _, m := range v.obj.Members() {
			o.Set(m.Key, m.Value.Clone())
		}
		return Value{kind: Object, obj: o}
	default:
		return v
	}
}

// Equal 结构相等：对象比较键顺序与值，数字比较字面量。
func (v Value) Equal(w Value) bool {
	if v.kind != w.kind {
		return false
	}
	switch v.kind {
	case Invalid, Null:
		return true
	case Bool:
		return v.b == w.b
	case Number, String:
		return v.s == w.s
	case Array:
		if len(v.arr) != len(w.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(w.arr[i]) {
				return false
			}
		}
		return true
	case Object:
		a, b := v.obj.Members(), w.obj.Members()
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if a[i].Key != b[i].Key || !a[i].Value.Equal(b[i].Value) {
				return false
			}
		}
		return true
	}
	return false
}
