package contract

import "errors"

// 最小错误分类（用于上层策略判定与日志分类）。
var (
	// ErrParse: 输入文档不是合法 JSON；仅中止该文件的流水线。
	ErrParse = errors.New("parse error")
	// ErrFillService: 填充服务调用失败（重试耗尽后记录为逐路径失败，不中止流水线）。
	ErrFillService = errors.New("fill service error")
	// ErrPathInvalid: 目标标识映射为无效/越界路径（例如绝对路径或 '..' 逃逸）。
	ErrPathInvalid = errors.New("path invalid")
	// ErrBudgetExceeded: 预算或配额不足（如单请求条目上限）。
	ErrBudgetExceeded = errors.New("budget exceeded")
	// ErrRateLimited: 上游限流（HTTP 429）。
	ErrRateLimited = errors.New("rate limited")
	// ErrResponseInvalid: 上游响应无法解码或不符合协议。
	ErrResponseInvalid = errors.New("response invalid")
	// ErrInvalidInput: 输入/配置非法。
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidTransition: FillJob 状态机违例。
	ErrInvalidTransition = errors.New("invalid state transition")
)
