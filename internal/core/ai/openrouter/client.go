package openrouter

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"recipe-modifier/internal/core/ai/provider"
	"recipe-modifier/internal/pkg/common"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

const (
	// DefaultBaseURL OpenRouter API 位址
	DefaultBaseURL = "https://openrouter.ai/api/v1"
	providerName   = "openrouter"
)

// Client OpenRouter API 客戶端，實作 provider.Provider
type Client struct {
	client *resty.Client
	model  string
}

// chatRequest OpenRouter chat completions 請求
type chatRequest struct {
	Model       string             `json:"model"`
	Messages    []provider.Message `json:"messages"`
	MaxTokens   int                `json:"max_tokens,omitempty"`
	Temperature float64            `json:"temperature,omitempty"`
	Stop        []string           `json:"stop,omitempty"`
	// ResponseFormat 要求模型輸出 JSON 物件
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

// chatResponse OpenRouter 響應結構
type chatResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Choices []choice       `json:"choices"`
	Usage   provider.Usage `json:"usage"`
	Error   *apiError      `json:"error,omitempty"`
}

type choice struct {
	Message      provider.Message `json:"message"`
	FinishReason string           `json:"finish_reason"`
}

// apiError 表示 API 錯誤
type apiError struct {
	Message string      `json:"message"`
	Type    string      `json:"type"`
	Code    interface{} `json:"code"`
}

type errorEnvelope struct {
	Error apiError `json:"error"`
}

// NewClient 創建新的 OpenRouter 客戶端
func NewClient(cfg provider.Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("openrouter api key is required")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetAuthToken(cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.Referer != "" {
		rc.SetHeader("HTTP-Referer", cfg.Referer)
	}
	if cfg.Title != "" {
		rc.SetHeader("X-Title", cfg.Title)
	}

	common.LogInfo("OpenRouter 客戶端初始化",
		zap.String("base_url", baseURL),
		zap.String("model", cfg.Model),
		zap.String("api_key", common.MaskSecret(cfg.APIKey)),
		zap.Duration("timeout", timeout),
	)

	return &Client{client: rc, model: cfg.Model}, nil
}

// Name 提供者名稱
func (c *Client) Name() string { return providerName }

// Generate 送出單次 chat completions 請求，不做重試
func (c *Client) Generate(ctx context.Context, req *provider.Request) (*provider.Response, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	body := chatRequest{
		Model:          model,
		Messages:       req.Messages,
		MaxTokens:      req.MaxTokens,
		Temperature:    req.Temperature,
		Stop:           req.Stop,
		ResponseFormat: &responseFormat{Type: "json_object"},
	}

	common.LogDebug("Sending request to OpenRouter",
		zap.String("model", model),
		zap.Int("messages", len(req.Messages)),
	)

	var result chatResponse
	var failure errorEnvelope
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&result).
		SetError(&failure).
		Post("/chat/completions")
	if err != nil {
		// resty 在 ctx 結束時回傳包裝後的錯誤，優先回報 ctx 的狀態
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, provider.TransportError(providerName, ctxErr)
		}
		common.LogWarn("Failed to send request to AI service",
			zap.Error(err),
			zap.String("model", model),
		)
		return nil, provider.TransportError(providerName, err)
	}

	if resp.StatusCode() != http.StatusOK {
		msg := failure.Error.Message
		if msg == "" {
			msg = resp.String()
		}
		common.LogWarn("AI service returned error status",
			zap.Int("status_code", resp.StatusCode()),
			zap.String("model", model),
			zap.String("response", common.Truncate(msg, 300)),
		)
		return nil, provider.StatusError(providerName, resp.StatusCode(), msg)
	}

	// OpenRouter 有時以 200 回傳上游錯誤
	if result.Error != nil {
		code := http.StatusBadGateway
		if n, ok := result.Error.Code.(float64); ok && n >= 400 {
			code = int(n)
		}
		return nil, provider.StatusError(providerName, code, result.Error.Message)
	}
	if len(result.Choices) == 0 {
		return nil, common.NewKindError(common.KindModel, "empty choices in OpenRouter response", nil)
	}
	content := result.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return nil, common.NewKindError(common.KindModel, "empty content in OpenRouter response", nil)
	}

	if result.Model != "" {
		model = result.Model
	}
	return &provider.Response{
		Content:      content,
		Model:        model,
		FinishReason: result.Choices[0].FinishReason,
		Usage:        result.Usage,
	}, nil
}

// Close 關閉客戶端
func (c *Client) Close() error {
	c.client.GetClient().CloseIdleConnections()
	return nil
}
