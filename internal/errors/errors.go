// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
)

// ErrorType 定义错误类型
type ErrorType string

const (
	// 通用错误类型
	ErrorTypeValidation ErrorType = "validation_error"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeError      ErrorType = "processing_error"
	ErrorTypeConflict   ErrorType = "conflict"
	ErrorTypeTimeout    ErrorType = "timeout"

	// 生成会话相关错误类型
	ErrorTypeTransport  ErrorType = "transport_error"
	ErrorTypeProtocol   ErrorType = "protocol_error"
	ErrorTypeGeneration ErrorType = "generation_error"

	// 导航相关错误类型
	ErrorTypeDeadEnd ErrorType = "dead_end"
)

// AppError 应用程序错误结构
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
	Code    string // 用户友好的错误代码
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap 实现错误链接
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError 创建新的 AppError
func NewAppError(errType ErrorType, message string, originalError error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Err:     originalError,
		Code:    generateErrorCode(errType),
	}
}

// NewValidationError 创建验证错误（请求字段缺失，发起网络请求之前报告）
func NewValidationError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeValidation, message, originalError)
}

// NewNotFoundError 创建未找到错误
func NewNotFoundError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeNotFound, message, originalError)
}

// NewProcessingError 创建处理错误
func NewProcessingError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeError, message, originalError)
}

// NewConflictError 创建冲突错误
func NewConflictError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeConflict, message, originalError)
}

// NewTimeoutError 创建超时错误
func NewTimeoutError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeTimeout, message, originalError)
}

// NewTransportError 创建传输错误（连接失败或流在终止事件前关闭）
func NewTransportError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeTransport, message, originalError)
}

// NewProtocolError 创建协议错误（单行无法解析或类型未知，非致命）
func NewProtocolError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeProtocol, message, originalError)
}

// NewGenerationError 创建生成错误（后端发送的 error 事件）
func NewGenerationError(message string) *AppError {
	return NewAppError(ErrorTypeGeneration, message, nil)
}

// NewDeadEndError 创建死路错误
func NewDeadEndError(message string) *AppError {
	return NewAppError(ErrorTypeDeadEnd, message, nil)
}

func isType(err error, errType ErrorType) bool {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type == errType
	}
	return false
}

// IsValidationError 检查是否为验证错误
func IsValidationError(err error) bool {
	return isType(err, ErrorTypeValidation)
}

// IsNotFoundError 检查是否为未找到错误
func IsNotFoundError(err error) bool {
	return isType(err, ErrorTypeNotFound)
}

// IsConflictError 检查是否为冲突错误
func IsConflictError(err error) bool {
	return isType(err, ErrorTypeConflict)
}

// IsTimeoutError 检查是否为超时错误
func IsTimeoutError(err error) bool {
	return isType(err, ErrorTypeTimeout)
}

// IsTransportError 检查是否为传输错误
func IsTransportError(err error) bool {
	return isType(err, ErrorTypeTransport)
}

// IsProtocolError 检查是否为协议错误
func IsProtocolError(err error) bool {
	return isType(err, ErrorTypeProtocol)
}

// IsGenerationError 检查是否为生成错误
func IsGenerationError(err error) bool {
	return isType(err, ErrorTypeGeneration)
}

// IsDeadEnd 检查是否为死路
func IsDeadEnd(err error) bool {
	return isType(err, ErrorTypeDeadEnd)
}

// TypeOf 返回错误类型，非 AppError 返回空字符串
func TypeOf(err error) ErrorType {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type
	}
	return ""
}

// generateErrorCode 根据错误类型生成错误代码
func generateErrorCode(errType ErrorType) string {
	switch errType {
	case ErrorTypeValidation:
		return "VALIDATION_ERROR"
	case ErrorTypeNotFound:
		return "NOT_FOUND"
	case ErrorTypeError:
		return "PROCESSING_ERROR"
	case ErrorTypeConflict:
		return "CONFLICT"
	case ErrorTypeTimeout:
		return "TIMEOUT"
	case ErrorTypeTransport:
		return "TRANSPORT_ERROR"
	case ErrorTypeProtocol:
		return "PROTOCOL_ERROR"
	case ErrorTypeGeneration:
		return "GENERATION_ERROR"
	case ErrorTypeDeadEnd:
		return "DEAD_END"
	default:
		return "UNKNOWN_ERROR"
	}
}

// WrapError 包装现有错误
func WrapError(err error, message string, errType ErrorType) error {
	if err == nil {
		return nil
	}

	var appError *AppError
	if errors.As(err, &appError) {
		// 如果已经是 AppError，只更新消息
		return &AppError{
			Type:    appError.Type,
			Message: fmt.Sprintf("%s: %s", message, appError.Message),
			Err:     appError,
			Code:    appError.Code,
		}
	}

	// 否则创建新的 AppError
	return NewAppError(errType, message, err)
}
