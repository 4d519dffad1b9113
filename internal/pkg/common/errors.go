package common

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorKind 錯誤分類；為封閉列舉，新增種類時需同步更新 Retryable 與 HTTP 對應
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindInvalidInput
	KindNotFound
	KindQuotaExceeded
	KindAuthentication
	KindRateLimit
	KindModel
	KindNetwork
	KindTimeout
	KindExternalService
	KindProcessing
	KindCacheUnavailable
)

// String 回傳錯誤種類名稱
func (k ErrorKind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindNotFound:
		return "not_found"
	case KindQuotaExceeded:
		return "quota_exceeded"
	case KindAuthentication:
		return "authentication"
	case KindRateLimit:
		return "rate_limit"
	case KindModel:
		return "model"
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindExternalService:
		return "external_service"
	case KindProcessing:
		return "processing"
	case KindCacheUnavailable:
		return "cache_unavailable"
	default:
		return "unknown"
	}
}

// Retryable 是否可由 ModelClient 重試
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindRateLimit, KindNetwork, KindTimeout:
		return true
	case KindUnknown, KindInvalidInput, KindNotFound, KindQuotaExceeded, KindAuthentication,
		KindModel, KindExternalService, KindProcessing, KindCacheUnavailable:
		return false
	}
	return false
}

// ErrorResponse 定義 API 錯誤響應結構
type ErrorResponse struct {
	Code      string     `json:"code"`
	Message   string     `json:"message"`
	Details   string     `json:"details,omitempty"`
	Retryable bool       `json:"retryable,omitempty"`
	Attempts  int        `json:"attempts,omitempty"`
	Remaining *int64     `json:"remaining,omitempty"`
	ResetAt   *time.Time `json:"reset_at,omitempty"`
}

// CustomError 定義自定義錯誤類型
type CustomError struct {
	Kind    ErrorKind
	Code    string
	Message string
	Status  int
	Err     error

	// Attempts 為 ModelClient 實際送出的呼叫次數
	Attempts int
	// Remaining / ResetAt 僅用於配額錯誤
	Remaining int64
	ResetAt   time.Time
}

func (e *CustomError) Error() string {
	if e.Err != nil {
		if e.Message == "" {
			return e.Err.Error()
		}
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap 讓 errors.Is / errors.As 可以找到原始錯誤
func (e *CustomError) Unwrap() error {
	return e.Err
}

// Is 以錯誤種類比對，使預定義錯誤可以當作 sentinel 使用
func (e *CustomError) Is(target error) bool {
	t, ok := target.(*CustomError)
	if !ok {
		return false
	}
	return t.Kind != KindUnknown && t.Kind == e.Kind
}

// Response 轉換為 API 錯誤響應
func (e *CustomError) Response(withDetails bool) ErrorResponse {
	resp := ErrorResponse{
		Code:      e.Code,
		Message:   e.Message,
		Retryable: e.Kind == KindExternalService || e.Kind.Retryable(),
		Attempts:  e.Attempts,
	}
	if resp.Message == "" && e.Err != nil {
		resp.Message = e.Err.Error()
	}
	if e.Kind == KindQuotaExceeded {
		remaining := e.Remaining
		resetAt := e.ResetAt
		resp.Remaining = &remaining
		resp.ResetAt = &resetAt
	}
	if withDetails && e.Err != nil {
		resp.Details = e.Err.Error()
	}
	return resp
}

// NewError 創建新的自定義錯誤
func NewError(code string, message string, status int, err error) *CustomError {
	return &CustomError{
		Code:    code,
		Message: message,
		Status:  status,
		Err:     err,
	}
}

// NewKindError 依錯誤種類建立錯誤，代碼與狀態碼取自 kind 預設值
func NewKindError(kind ErrorKind, message string, err error) *CustomError {
	code, status := kindDefaults(kind)
	return &CustomError{
		Kind:    kind,
		Code:    code,
		Message: message,
		Status:  status,
		Err:     err,
	}
}

func kindDefaults(kind ErrorKind) (string, int) {
	switch kind {
	case KindInvalidInput:
		return ErrCodeInvalidRequest, http.StatusBadRequest
	case KindNotFound:
		return ErrCodeNotFound, http.StatusNotFound
	case KindQuotaExceeded:
		return ErrCodeQuotaExceeded, http.StatusTooManyRequests
	case KindAuthentication:
		return ErrCodeProviderAuth, http.StatusBadGateway
	case KindRateLimit:
		return ErrCodeProviderRateLimit, http.StatusServiceUnavailable
	case KindModel:
		return ErrCodeProviderRejected, http.StatusBadGateway
	case KindNetwork:
		return ErrCodeServiceUnavailable, http.StatusServiceUnavailable
	case KindTimeout:
		return ErrCodeGatewayTimeout, http.StatusGatewayTimeout
	case KindExternalService:
		return ErrCodeAIServiceError, http.StatusServiceUnavailable
	case KindProcessing:
		return ErrCodeProcessing, http.StatusBadGateway
	case KindCacheUnavailable:
		return ErrCodeCacheUnavailable, http.StatusServiceUnavailable
	default:
		return ErrCodeInternalError, http.StatusInternalServerError
	}
}

// NewInvalidInputError 輸入格式錯誤
func NewInvalidInputError(message string, err error) *CustomError {
	return NewKindError(KindInvalidInput, message, err)
}

// NewNotFoundError 資源不存在或不屬於呼叫者
func NewNotFoundError(message string) *CustomError {
	return NewKindError(KindNotFound, message, nil)
}

// NewQuotaExceededError 使用者每日配額已用盡
func NewQuotaExceededError(limit int64, resetAt time.Time) *CustomError {
	e := NewKindError(KindQuotaExceeded, fmt.Sprintf("daily modification limit of %d reached", limit), nil)
	e.Remaining = 0
	e.ResetAt = resetAt
	return e
}

// NewExternalServiceError 重試耗盡後包裝最後一次錯誤
func NewExternalServiceError(attempts int, cause error) *CustomError {
	e := NewKindError(KindExternalService,
		fmt.Sprintf("AI service unavailable after %d attempts, try again later", attempts), cause)
	e.Attempts = attempts
	return e
}

// NewProcessingError AI 回應格式無法解析
func NewProcessingError(message string, err error) *CustomError {
	return NewKindError(KindProcessing, message, err)
}

// NewCacheUnavailableError 快取或配額儲存後端不可用
func NewCacheUnavailableError(message string, err error) *CustomError {
	return NewKindError(KindCacheUnavailable, message, err)
}

// KindOf 取得錯誤鏈上最外層 CustomError 的種類
func KindOf(err error) ErrorKind {
	var ce *CustomError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

// AsCustomError 將任意錯誤轉為 CustomError，未分類錯誤視為內部錯誤
func AsCustomError(err error) *CustomError {
	var ce *CustomError
	if errors.As(err, &ce) {
		return ce
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return NewKindError(KindTimeout, "request timed out", err)
	case errors.Is(err, context.Canceled):
		return NewError(ErrCodeRequestCanceled, "request canceled", StatusClientClosedRequest, err)
	}
	return NewError(ErrCodeInternalError, "internal server error", http.StatusInternalServerError, err)
}

// StatusClientClosedRequest 用戶端中斷連線（nginx 慣例）
const StatusClientClosedRequest = 499

// 預定義錯誤代碼
const (
	// 客戶端錯誤 (4xx)
	ErrCodeInvalidRequest  = "INVALID_REQUEST"
	ErrCodeUnauthorized    = "UNAUTHORIZED"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeRequestTimeout  = "REQUEST_TIMEOUT"
	ErrCodeTooManyRequests = "TOO_MANY_REQUESTS"
	ErrCodeQuotaExceeded   = "QUOTA_EXCEEDED"
	ErrCodeRequestCanceled = "REQUEST_CANCELED"

	// 服務器錯誤 (5xx)
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeGatewayTimeout     = "GATEWAY_TIMEOUT"

	// 業務錯誤
	ErrCodeAIServiceError    = "AI_SERVICE_ERROR"
	ErrCodeProviderAuth      = "AI_PROVIDER_AUTH"
	ErrCodeProviderRateLimit = "AI_PROVIDER_RATE_LIMITED"
	ErrCodeProviderRejected  = "AI_PROVIDER_REJECTED"
	ErrCodeProcessing        = "AI_RESPONSE_INVALID"
	ErrCodeCacheUnavailable  = "CACHE_UNAVAILABLE"
)

// 預定義錯誤，配合 errors.Is 以種類比對
var (
	ErrInvalidInput     = &CustomError{Kind: KindInvalidInput}
	ErrNotFound         = &CustomError{Kind: KindNotFound}
	ErrQuotaExceeded    = &CustomError{Kind: KindQuotaExceeded}
	ErrAuthentication   = &CustomError{Kind: KindAuthentication}
	ErrRateLimit        = &CustomError{Kind: KindRateLimit}
	ErrModel            = &CustomError{Kind: KindModel}
	ErrNetwork          = &CustomError{Kind: KindNetwork}
	ErrTimeout          = &CustomError{Kind: KindTimeout}
	ErrExternalService  = &CustomError{Kind: KindExternalService}
	ErrProcessing       = &CustomError{Kind: KindProcessing}
	ErrCacheUnavailable = &CustomError{Kind: KindCacheUnavailable}

	ErrUnauthorized    = NewError(ErrCodeUnauthorized, "missing user identity", http.StatusUnauthorized, nil)
	ErrTooManyRequests = NewError(ErrCodeTooManyRequests, "too many requests", http.StatusTooManyRequests, nil)
)
