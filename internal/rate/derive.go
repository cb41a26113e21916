package rate

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
)

// DeriveKeyFromProviderOptions 从填充后端标识与其原样 Options JSON 中提取凭据，
// 返回按 provider+sha256(key) 构造的限流分组键，使共享同一凭据的配置共享额度。
// 解析键名："api_key" 与 "api_key_env"；mock 未提供时使用内置 "MOCK_DEBUG_KEY"；
// httpapi 允许匿名，此时按 endpoint 分组。
func DeriveKeyFromProviderOptions(provider string, raw json.RawMessage) (LimitKey, error) {
	var obj map[string]any
	_ = json.Unmarshal(raw, &obj)

	pick := func(key string) string {
		if v, ok := obj[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
		return ""
	}

	key := pick("api_key")
	if key == "" {
		if env := pick("api_key_env"); env != "" {
			key = os.Getenv(env)
		}
	}
	if key == "" {
		switch provider {
		case "mock":
			key = "MOCK_DEBUG_KEY"
		case "httpapi":
			key = pick("endpoint")
		}
	}
	if key == "" {
		return "", fmt.Errorf("rate: missing api key for provider %s", provider)
	}
	sum := sha256.Sum256([]byte(key))
	return LimitKey(fmt.Sprintf("%s:%x", provider, sum[:])), nil
}
