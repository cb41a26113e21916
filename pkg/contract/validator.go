package contract

// 校验库函数（纯函数，无 I/O）：
//   - ValidateTranslations: 以批内键为准对齐上游结果；多余键丢弃，缺失键返回为 missing。
//
// 约束：返回的 kept 与 missing 互斥，且并集恰为批内全部键。
func ValidateTranslations(entries []Entry, got map[string]string) (kept map[string]string, missing []string) {
	kept = make(map[string]string, len(entries))
	for _, e := range entries {
		v, ok := got[e.Key]
		if !ok {
			missing = append(missing, e.Key)
			continue
		}
		kept[e.Key] = v
	}
	return kept, missing
}
