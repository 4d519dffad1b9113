package quota

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"recipe-modifier/internal/infrastructure/metrics"
	"recipe-modifier/internal/pkg/common"

	"go.uber.org/zap"
)

// Limit 每日上限；無限制方案以 Unlimited 表示，比較邏輯保持一致
type Limit int64

// Unlimited 無上限
const Unlimited Limit = math.MaxInt64

// DefaultDailyLimit 預設每日修改次數
const DefaultDailyLimit Limit = 5

// dateLayout 視窗以設定時區的日期表示，字典序即時間序
const dateLayout = "2006-01-02"

// IsUnlimited 是否為無上限
func (l Limit) IsUnlimited() bool { return l == Unlimited }

// Clock 可注入的時間來源
type Clock func() time.Time

// Policy 決定每位使用者的上限
type Policy struct {
	DefaultLimit   Limit
	UnlimitedUsers map[string]struct{}
}

// NewPolicy 創建配額政策
func NewPolicy(defaultLimit Limit, unlimitedUsers []string) Policy {
	if defaultLimit <= 0 {
		defaultLimit = DefaultDailyLimit
	}
	users := make(map[string]struct{}, len(unlimitedUsers))
	for _, u := range unlimitedUsers {
		if u = strings.TrimSpace(u); u != "" {
			users[u] = struct{}{}
		}
	}
	return Policy{DefaultLimit: defaultLimit, UnlimitedUsers: users}
}

// LimitFor 使用者的每日上限
func (p Policy) LimitFor(userID string) Limit {
	if _, ok := p.UnlimitedUsers[userID]; ok {
		return Unlimited
	}
	if p.DefaultLimit <= 0 {
		return DefaultDailyLimit
	}
	return p.DefaultLimit
}

// Status 使用狀態，供 UI 顯示
type Status struct {
	Count     int64     `json:"count"`
	Limit     Limit     `json:"limit"`
	Remaining int64     `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
	Unlimited bool      `json:"unlimited"`
}

// Reservation 成功預留的一次額度；額度在呼叫模型前扣除，失敗也不退回
type Reservation struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	WindowStart string    `json:"window_start"`
	Count       int64     `json:"count"`
	Limit       Limit     `json:"limit"`
	Remaining   int64     `json:"remaining"`
	ResetAt     time.Time `json:"reset_at"`
}

// Status 預留後的狀態
func (r *Reservation) Status() Status {
	return Status{
		Count:     r.Count,
		Limit:     r.Limit,
		Remaining: r.Remaining,
		ResetAt:   r.ResetAt,
		Unlimited: r.Limit.IsUnlimited(),
	}
}

// Options Limiter 設定
type Options struct {
	// Location 日期切換所用的時區，nil 為 UTC
	Location *time.Location
	Clock    Clock
	Metrics  *metrics.Metrics
}

// Limiter 每位使用者的每日配額；計數存放於 Store，重置發生在新的一天第一次存取時
type Limiter struct {
	store   Store
	policy  Policy
	loc     *time.Location
	now     Clock
	metrics *metrics.Metrics
}

// New 創建配額限制器
func New(store Store, policy Policy, opts Options) *Limiter {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Limiter{
		store:   store,
		policy:  policy,
		loc:     opts.Location,
		now:     opts.Clock,
		metrics: opts.Metrics,
	}
}

// CheckAndReserve 原子地執行：視窗過期則重置、已達上限則拒絕、否則計數加一
func (l *Limiter) CheckAndReserve(ctx context.Context, userID string) (*Reservation, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, common.NewInvalidInputError("user id is required", nil)
	}
	limit := l.policy.LimitFor(userID)
	today := l.today()

	res, err := l.store.Reserve(ctx, userID, today, limit)
	if err != nil {
		l.metrics.QuotaDecision("error")
		common.LogError("配額儲存不可用，拒絕請求", zap.String("user_id", userID), zap.Error(err))
		return nil, common.NewCacheUnavailableError("usage quota store unavailable", err)
	}

	resetAt, err := l.resetAt(res.Window)
	if err != nil {
		return nil, common.NewCacheUnavailableError("usage quota store returned an invalid window", err)
	}

	if !res.Reserved {
		l.metrics.QuotaDecision("exceeded")
		common.LogInfo("每日配額已用盡",
			zap.String("user_id", userID),
			zap.Int64("limit", int64(limit)),
			zap.Time("reset_at", resetAt),
		)
		return nil, common.NewQuotaExceededError(int64(limit), resetAt)
	}

	l.metrics.QuotaDecision("reserved")
	return &Reservation{
		ID:          common.GenerateUUID(),
		UserID:      userID,
		WindowStart: res.Window,
		Count:       res.Count,
		Limit:       limit,
		Remaining:   remaining(limit, res.Count),
		ResetAt:     resetAt,
	}, nil
}

// Peek 唯讀查詢；視窗已過期時回報重置後的狀態但不寫入
func (l *Limiter) Peek(ctx context.Context, userID string) (Status, error) {
	if strings.TrimSpace(userID) == "" {
		return Status{}, common.NewInvalidInputError("user id is required", nil)
	}
	limit := l.policy.LimitFor(userID)
	today := l.today()

	counter, found, err := l.store.Load(ctx, userID)
	if err != nil {
		return Status{}, common.NewCacheUnavailableError("usage quota store unavailable", err)
	}

	window, count := today, int64(0)
	if found && counter.Window >= today {
		window, count = counter.Window, counter.Count
	}
	resetAt, err := l.resetAt(window)
	if err != nil {
		return Status{}, common.NewCacheUnavailableError("usage quota store returned an invalid window", err)
	}
	return Status{
		Count:     count,
		Limit:     limit,
		Remaining: remaining(limit, count),
		ResetAt:   resetAt,
		Unlimited: limit.IsUnlimited(),
	}, nil
}

// Ping 檢查儲存後端
func (l *Limiter) Ping(ctx context.Context) error {
	return l.store.Ping(ctx)
}

func (l *Limiter) today() string {
	return l.now().In(l.loc).Format(dateLayout)
}

// resetAt 視窗日期的下一個午夜（設定時區）
func (l *Limiter) resetAt(window string) (time.Time, error) {
	day, err := time.ParseInLocation(dateLayout, window, l.loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid window %q: %w", window, err)
	}
	return time.Date(day.Year(), day.Month(), day.Day()+1, 0, 0, 0, 0, l.loc), nil
}

func remaining(limit Limit, count int64) int64 {
	r := int64(limit) - count
	if r < 0 {
		return 0
	}
	return r
}
