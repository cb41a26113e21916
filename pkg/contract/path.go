package contract

import (
	"path"
	"strconv"
	"strings"
)

// NormalizeFileID 规范化路径，统一为跨平台稳定的 FileID。
// 规则：
// - 使用正斜杠分隔符
// - 清理多余分隔符与路径片段（.、..）
// - 保留相对/绝对语义，不做隐式绝对化
func NormalizeFileID(p string) FileID {
	s := strings.ReplaceAll(p, "\\", "/")
	return FileID(path.Clean(s))
}

// 路径语法：段以 '.' 连接；对象键内的 '.' 与 '\' 以 '\' 转义（"a.b" 键 → `a\.b`），
// 使扁平目录中的带点键与嵌套路径互不冲突。数组下标段为十进制，无需转义。
var keyEscaper = strings.NewReplacer(`\`, `\\`, `.`, `\.`)

// JoinKey 追加对象键段（键按需转义）。
func JoinKey(parent, key string) string {
	if strings.ContainsAny(key, `.\`) {
		key = keyEscaper.Replace(key)
	}
	return join(parent, key)
}

// JoinIndex 追加数组下标段。
func JoinIndex(parent string, i int) string {
	return join(parent, strconv.Itoa(i))
}

func join(parent, seg string) string {
	if parent == "" {
		return seg
	}
	return parent + "." + seg
}

// SplitPath 把路径拆为未转义的段；"" 返回 nil。
func SplitPath(p string) []string {
	if p == "" {
		return nil
	}
	if !strings.Contains(p, `\`) {
		return strings.Split(p, ".")
	}
	var (
		segs []string
		cur  strings.Builder
	)
	for i := 0; i < len(p); i++ {
		switch c := p[i]; {
		case c == '\\' && i+1 < len(p):
			i++
			cur.WriteByte(p[i])
		case c == '.':
			segs = append(segs, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	return append(segs, cur.String())
}

// MissingSentinel 返回缺失值哨兵文本（包含完整路径，便于 grep）。
func MissingSentinel(p string) string {
	return "[MISSING: " + p + "]"
}

// IsMissingSentinel 判断文本是否为缺失值哨兵。
func IsMissingSentinel(s string) bool {
	return strings.HasPrefix(s, "[MISSING: ") && strings.HasSuffix(s, "]")
}
