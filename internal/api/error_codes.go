// internal/api/error_codes.go
package api

import (
	"net/http"

	apperrors "github.com/Corphon/QuestWeaver/internal/errors"
)

// API错误代码常量
const (
	// 通用错误
	ErrorBadRequest    = "BAD_REQUEST"
	ErrorNotFound      = "NOT_FOUND"
	ErrorInternalError = "INTERNAL_ERROR"
	ErrorConflict      = "CONFLICT"
	ErrorRateLimited   = "RATE_LIMIT_EXCEEDED"

	// 会话相关错误
	ErrorSessionNotFound = "SESSION_NOT_FOUND"
	ErrorSceneNotFound   = "SCENE_NOT_FOUND"
	ErrorDeadEnd         = "DEAD_END"

	// 生成相关错误
	ErrorValidation      = "VALIDATION_FAILED"
	ErrorBackendFailed   = "BACKEND_FAILED"
	ErrorGenerationError = "GENERATION_FAILED"
	ErrorStreamTimeout   = "STREAM_TIMEOUT"
	ErrorStreamProtocol  = "STREAM_PROTOCOL"

	// LLM服务相关错误
	ErrorLLMConfigInvalid = "LLM_CONFIG_INVALID"

	// 导出相关错误
	ErrorExportFailed        = "EXPORT_FAILED"
	ErrorExportFormatInvalid = "EXPORT_FORMAT_INVALID"
)

// statusForError 把 AppError 类型映射为HTTP状态码与错误代码
func statusForError(err error) (int, string) {
	switch apperrors.TypeOf(err) {
	case apperrors.ErrorTypeValidation:
		return http.StatusBadRequest, ErrorValidation
	case apperrors.ErrorTypeNotFound:
		return http.StatusNotFound, ErrorNotFound
	case apperrors.ErrorTypeDeadEnd:
		return http.StatusConflict, ErrorDeadEnd
	case apperrors.ErrorTypeConflict:
		return http.StatusConflict, ErrorConflict
	case apperrors.ErrorTypeTransport:
		return http.StatusBadGateway, ErrorBackendFailed
	case apperrors.ErrorTypeGeneration:
		return http.StatusBadGateway, ErrorGenerationError
	case apperrors.ErrorTypeProtocol:
		return http.StatusBadGateway, ErrorStreamProtocol
	case apperrors.ErrorTypeTimeout:
		return http.StatusGatewayTimeout, ErrorStreamTimeout
	default:
		return http.StatusInternalServerError, ErrorInternalError
	}
}
