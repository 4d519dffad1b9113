package handlers

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"recipe-modifier/internal/pkg/common"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RespondError 將錯誤轉為 API 錯誤響應；debug 時附上原始錯誤
func RespondError(c *gin.Context, err error, debug bool) {
	ce := common.AsCustomError(err)
	status := ce.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}

	switch {
	case ce.Kind == common.KindQuotaExceeded && !ce.ResetAt.IsZero():
		secs := int(math.Ceil(time.Until(ce.ResetAt).Seconds()))
		if secs < 1 {
			secs = 1
		}
		c.Header("Retry-After", strconv.Itoa(secs))
	case status == http.StatusServiceUnavailable:
		c.Header("Retry-After", "30")
	}

	if status >= http.StatusInternalServerError {
		common.LogError("Request failed",
			zap.String("request_id", requestid.Get(c)),
			zap.String("code", ce.Code),
			zap.String("kind", ce.Kind.String()),
			zap.Error(err),
		)
	}

	_ = c.Error(err)
	c.AbortWithStatusJSON(status, gin.H{"error": ce.Response(debug)})
}

// RespondJSON 成功響應
func RespondJSON(c *gin.Context, status int, data interface{}) {
	c.JSON(status, data)
}
