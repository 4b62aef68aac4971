package apperr

import (
	"errors"
	"fmt"
)

// Kind 错误分类
// 运维人员需要区分"坏数据"和"坏服务"，因此错误分类必须显式保留，
// 不允许折叠为通用错误
type Kind int

const (
	// KindContractViolation 契约违规（特征向量形状/顺序/数值违规、Scorer 响应形状非法）
	// 终止性错误，不允许产生任何副作用
	KindContractViolation Kind = iota
	// KindNotFound 设备不存在
	KindNotFound
	// KindUpstreamUnavailable 上游不可用（Scorer 不可达或超时）
	KindUpstreamUnavailable
	// KindInvalidTransition 固件状态机转换被拒绝
	KindInvalidTransition
	// KindValidationError 调用方输入非法（如缺少必填字段）
	KindValidationError
)

// String 返回分类名称（用于日志和错误消息）
func (k Kind) String() string {
	switch k {
	case KindContractViolation:
		return "CONTRACT_VIOLATION"
	case KindNotFound:
		return "NOT_FOUND"
	case KindUpstreamUnavailable:
		return "UPSTREAM_UNAVAILABLE"
	case KindInvalidTransition:
		return "INVALID_TRANSITION"
	case KindValidationError:
		return "VALIDATION_ERROR"
	default:
		return "UNKNOWN"
	}
}

// Error 带分类的错误
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error 实现 error 接口
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap 支持 errors.Is / errors.As 链式匹配
func (e *Error) Unwrap() error {
	return e.Err
}

// New 创建指定分类的错误
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap 包装底层错误并附加分类
func Wrap(kind Kind, err error, format string, args ...interface{}) *Error {
	return &Error{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Err:     err,
	}
}

// ContractViolation 创建契约违规错误
func ContractViolation(format string, args ...interface{}) *Error {
	return New(KindContractViolation, format, args...)
}

// NotFound 创建设备不存在错误
func NotFound(format string, args ...interface{}) *Error {
	return New(KindNotFound, format, args...)
}

// UpstreamUnavailable 创建上游不可用错误
func UpstreamUnavailable(err error, format string, args ...interface{}) *Error {
	return Wrap(KindUpstreamUnavailable, err, format, args...)
}

// InvalidTransition 创建状态机转换拒绝错误（带人类可读原因）
func InvalidTransition(format string, args ...interface{}) *Error {
	return New(KindInvalidTransition, format, args...)
}

// Validation 创建输入校验错误
func Validation(format string, args ...interface{}) *Error {
	return New(KindValidationError, format, args...)
}

// KindOf 提取错误分类；非 *Error 返回 false
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// IsKind 判断错误是否属于指定分类
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// IsContractViolation 判断是否为契约违规
func IsContractViolation(err error) bool {
	return IsKind(err, KindContractViolation)
}

// IsNotFound 判断是否为设备不存在
func IsNotFound(err error) bool {
	return IsKind(err, KindNotFound)
}

// IsUpstreamUnavailable 判断是否为上游不可用
func IsUpstreamUnavailable(err error) bool {
	return IsKind(err, KindUpstreamUnavailable)
}

// IsInvalidTransition 判断是否为状态机转换拒绝
func IsInvalidTransition(err error) bool {
	return IsKind(err, KindInvalidTransition)
}

// IsValidation 判断是否为输入校验错误
func IsValidation(err error) bool {
	return IsKind(err, KindValidationError)
}
