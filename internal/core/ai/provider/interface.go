package provider

import (
	"context"
	"time"
)

// 對話角色
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Prompt 一次模型呼叫所需的系統指令與使用者訊息
type Prompt struct {
	System string `json:"system"`
	User   string `json:"user"`
}

// Message 表示與 AI 模型的對話消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request 表示發送到 AI 提供者的請求
type Request struct {
	Model       string    `json:"model,omitempty"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	Stop        []string  `json:"stop,omitempty"`
}

// Usage token 使用量
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response 表示從 AI 提供者收到的響應
type Response struct {
	Content      string `json:"content"`
	Model        string `json:"model"`
	FinishReason string `json:"finish_reason,omitempty"`
	Usage        Usage  `json:"usage"`
}

// Provider 定義 AI 提供者介面
//
// Generate 每次只送出一個請求，不做重試；失敗時回傳帶有 common.ErrorKind 的 CustomError，
// 重試與退避由 client 套件負責。
type Provider interface {
	// Generate 生成 AI 響應
	Generate(ctx context.Context, req *Request) (*Response, error)

	// Name 提供者名稱，用於日誌與指標
	Name() string

	// Close 關閉提供者連接
	Close() error
}

// Config 定義 AI 提供者配置
type Config struct {
	APIKey  string
	Model   string
	Timeout time.Duration
	BaseURL string
	Referer string
	Title   string
}

// NewRequest 由 Prompt 建立標準的 system + user 對話請求
func NewRequest(model string, prompt Prompt, maxTokens int, temperature float64) *Request {
	messages := make([]Message, 0, 2)
	if prompt.System != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: prompt.System})
	}
	messages = append(messages, Message{Role: RoleUser, Content: prompt.User})
	return &Request{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}
}

// Prompt 取回請求中的系統指令與最後一則使用者訊息
func (r *Request) Prompt() Prompt {
	var p Prompt
	for _, m := range r.Messages {
		switch m.Role {
		case RoleSystem:
			p.System = m.Content
		case RoleUser:
			p.User = m.Content
		}
	}
	return p
}
