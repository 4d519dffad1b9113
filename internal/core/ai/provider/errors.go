package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"recipe-modifier/internal/pkg/common"
)

// ClassifyStatus 將提供者回應的 HTTP 狀態碼對應到錯誤種類
func ClassifyStatus(status int) common.ErrorKind {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden, status == http.StatusPaymentRequired:
		return common.KindAuthentication
	case status == http.StatusTooManyRequests:
		return common.KindRateLimit
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return common.KindTimeout
	case status >= 500:
		return common.KindNetwork
	default:
		return common.KindModel
	}
}

// ClassifyTransport 將傳輸層錯誤對應到錯誤種類；呼叫端取消不屬於任何種類
func ClassifyTransport(err error) common.ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return common.KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return common.KindTimeout
	}
	return common.KindNetwork
}

// StatusError 依狀態碼建立分類後的提供者錯誤
func StatusError(name string, status int, body string) *common.CustomError {
	kind := ClassifyStatus(status)
	return common.NewKindError(kind,
		fmt.Sprintf("%s returned status %d", name, status),
		fmt.Errorf("%s", common.Truncate(body, 300)))
}

// TransportError 包裝請求送出失敗的錯誤；context.Canceled 原樣回傳
func TransportError(name string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return common.NewKindError(ClassifyTransport(err),
		fmt.Sprintf("request to %s failed", name), err)
}
