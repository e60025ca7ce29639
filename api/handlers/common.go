package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/tokenbudget/types"
)

// DefaultMaxBodyBytes 单个请求体上限，BodyLimit 中间件可以再收紧
const DefaultMaxBodyBytes int64 = 1 << 20

// =============================================================================
// 📦 响应信封
// =============================================================================

// Response 所有 JSON 接口共用的信封，Data 与 Error 二者有一
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	RequestID string     `json:"request_id,omitempty"`
}

// ErrorInfo 对外暴露的错误，Cause 只进日志
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// WriteJSON 直接写出 v，健康检查等不走信封的接口使用
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	// 头已写出，编码失败无从补救
	_ = json.NewEncoder(w).Encode(v)
}

func envelope(w http.ResponseWriter) Response {
	return Response{Timestamp: time.Now(), RequestID: w.Header().Get("X-Request-ID")}
}

// WriteSuccess 200 + 信封
func WriteSuccess(w http.ResponseWriter, data any) {
	WriteStatus(w, http.StatusOK, data)
}

// WriteStatus 以指定状态码写成功信封
func WriteStatus(w http.ResponseWriter, status int, data any) {
	resp := envelope(w)
	resp.Success = true
	resp.Data = data
	WriteJSON(w, status, resp)
}

// =============================================================================
// ❌ 错误响应
// =============================================================================

// statusByCode 错误码到 HTTP 状态码，未列出的按 500 处理
var statusByCode = map[types.ErrorCode]int{
	types.ErrInvalidRequest:     http.StatusBadRequest,
	types.ErrUnauthorized:       http.StatusUnauthorized,
	types.ErrForbidden:          http.StatusForbidden,
	types.ErrNotFound:           http.StatusNotFound,
	types.ErrRateLimited:        http.StatusTooManyRequests,
	types.ErrContextOverflow:    http.StatusRequestEntityTooLarge,
	types.ErrTimeout:            http.StatusGatewayTimeout,
	types.ErrServiceUnavailable: http.StatusServiceUnavailable,
}

func statusOf(err *types.Error) int {
	if err.HTTPStatus != 0 {
		return err.HTTPStatus
	}
	if s, ok := statusByCode[err.Code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// WriteError 写错误信封。5xx 记 Error，其余记 Debug。
func WriteError(w http.ResponseWriter, err *types.Error, logger *zap.Logger) {
	status := statusOf(err)

	if logger != nil {
		log := logger.Debug
		if status >= http.StatusInternalServerError {
			log = logger.Error
		}
		log("request failed",
			zap.String("code", string(err.Code)),
			zap.String("message", err.Message),
			zap.Int("status", status),
			zap.Error(err.Cause),
		)
	}

	resp := envelope(w)
	resp.Error = &ErrorInfo{Code: string(err.Code), Message: err.Message, Retryable: err.Retryable}
	WriteJSON(w, status, resp)
}

// WriteServiceError 业务层错误出口，非 *types.Error 一律视为内部错误
func WriteServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var te *types.Error
	if !errors.As(err, &te) {
		te = types.NewError(types.ErrInternalError, "internal error").WithCause(err)
	}
	WriteError(w, te, logger)
}

// WriteErrorMessage 中间件用的快捷方式
func WriteErrorMessage(w http.ResponseWriter, status int, code types.ErrorCode, message string, logger *zap.Logger) {
	WriteError(w, types.NewError(code, message).WithHTTPStatus(status), logger)
}

// =============================================================================
// 📥 请求解析
// =============================================================================

// decodeJSON 校验 Content-Type 后严格解码请求体到 dst。
// 返回 false 时错误响应已写出，调用方直接 return。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, logger *zap.Logger) bool {
	if mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mt != "application/json" {
		WriteError(w, types.NewInvalidRequestError("Content-Type must be application/json").
			WithHTTPStatus(http.StatusUnsupportedMediaType), logger)
		return false
	}
	if r.Body == nil || r.Body == http.NoBody {
		WriteError(w, types.NewInvalidRequestError("request body is empty"), logger)
		return false
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, DefaultMaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		apiErr := types.NewInvalidRequestError("invalid JSON body").WithCause(err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apiErr = types.NewInvalidRequestError("request body too large").
				WithCause(err).
				WithHTTPStatus(http.StatusRequestEntityTooLarge)
		}
		WriteError(w, apiErr, logger)
		return false
	}
	return true
}

// validateMessages 只接受 system/user/assistant 三种角色
func validateMessages(msgs []types.Message) *types.Error {
	for i, m := range msgs {
		if !m.Role.Valid() {
			return types.NewInvalidRequestError(fmt.Sprintf("messages[%d].role must be system, user or assistant", i))
		}
	}
	return nil
}
