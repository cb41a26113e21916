package jsonv

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"catfix/pkg/contract"
)

// Parse 解析 UTF-8 JSON 文本为 Value。
// 约束：对象保持源文本中的键顺序；数字保留字面量；尾随非空白内容视为语法错误。
// 错误统一包装为 contract.ErrParse。
func Parse(data []byte) (Value, error) {
	return ParseReader(bytes.NewReader(data))
}

// ParseReader 从流中解析单个 JSON 文档。
func ParseReader(r io.Reader) (Value, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	v, err := parseValue(dec)
	if err != nil {
		return Value{}, fmt.Errorf("%w: %v", contract.ErrParse, err)
	}
	// 仅允许尾随空白
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		if err == nil {
			err = errors.New("trailing data after document")
		}
		return Value{}, fmt.Errorf("%w: %v", contract.ErrParse, err)
	}
	return v, nil
}

func parseValue(dec *json.Decoder) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Value{}, io.ErrUnexpectedEOF
		}
		return Value{}, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			o := NewObj()
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return Value{}, err
				}
				key, ok := kt.(string)
				if !ok {
					return Value{}, fmt.Errorf("object key must be string, got %T", kt)
				}
				child, err := parseValue(dec)
				if err != nil {
					return Value{}, err
				}
				o.Set(key, child)
			}
			if _, err := dec.Token(); err != nil { // '}'
				return Value{}, err
			}
			return Value{kind: Object, obj: o}, nil
		case '[':
			items := make([]Value, 0, 4)
			for dec.More() {
				child, err := parseValue(dec)
				if err != nil {
					return Value{}, err
				}
				items = append(items, child)
			}
			if _, err := dec.Token(); err != nil { // ']'
				return Value{}, err
			}
			return Value{kind: Array, arr: items}, nil
		default:
			return Value{}, fmt.Errorf("unexpected delimiter %q", t)
		}
	case string:
		return StringValue(t), nil
	case json.Number:
		return NumberLiteral(t.String()), nil
	case bool:
		return BoolValue(t), nil
	case nil:
		return NullValue(), nil
	default:
		return Value{}, fmt.Errorf("unexpected token %T", tok)
	}
}

// Marshal 紧凑编码；Invalid 编码为 null。
func Marshal(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := encode(&buf, v, "", "", 0); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MarshalIndent 以给定缩进编码（不转义 HTML，保持对象顺序），末尾带换行。
func MarshalIndent(v Value, indent string) ([]byte, error) {
	var buf bytes.Buffer
	if err := encode(&buf, v, "\n", indent, 0); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// MarshalJSON 实现 json.Marshaler（紧凑形式）。
func (v Value) MarshalJSON() ([]byte, error) { return Marshal(v) }

// UnmarshalJSON 实现 json.Unmarshaler。
func (v *Value) UnmarshalJSON(b []byte) error {
	nv, err := Parse(b)
	if err != nil {
		return err
	}
	*v = nv
	return nil
}

func encode(buf *bytes.Buffer, v Value, nl, indent string, depth int) error {
	switch v.kind {
	case Invalid, Null:
		buf.WriteString("null")
	case Bool:
		if v.b {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case Number:
		buf.WriteString(v.s)
	case String:
		return encodeString(buf, v.s)
	case Array:
		if len(v.arr) == 0 {
			buf.WriteString("[]")
			return nil
		}
		buf.WriteByte('[')
		for i, it := range v.arr {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeIndent(buf, nl, indent, depth+1)
			if err := encode(buf, it, nl, indent, depth+1); err != nil {
				return err
			}
		}
		writeIndent(buf, nl, indent, depth)
		buf.WriteByte(']')
	case Object:
		ms := v.obj.Members()
		if len(ms) == 0 {
			buf.WriteString("{}")
			return nil
		}
		buf.WriteByte('{')
		for i, m := range ms {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeIndent(buf, nl, indent, depth+1)
			if err := encodeString(buf, m.Key); err != nil {
				return err
			}
			buf.WriteByte(':')
			if nl != "" {
				buf.WriteByte(' ')
			}
			if err := encode(buf, m.Value, nl, indent, depth+1); err != nil {
				return err
			}
		}
		writeIndent(buf, nl, indent, depth)
		buf.WriteByte('}')
	}
	return nil
}

func writeIndent(buf *bytes.Buffer, nl, indent string, depth int) {
	if nl == "" {
		return
	}
	buf.WriteString(nl)
	buf.WriteString(strings.Repeat(indent, depth))
}

// encodeString 复用 encoding/json 的转义规则，但关闭 HTML 转义（保留 <、>、& 原样）。
func encodeString(buf *bytes.Buffer, s string) error {
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	buf.Write(bytes.TrimRight(tmp.Bytes(), "\n"))
	return nil
}
