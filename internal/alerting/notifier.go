package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// OfferLine 描述一条已提交的放贷挂单。
type OfferLine struct {
	Amount       decimal.Decimal
	Rate         decimal.Decimal
	DurationDays uint16
}

// CycleReport 封装一轮挂单周期的通知上下文。
type CycleReport struct {
	At            time.Time
	Currency      string
	Lent          decimal.Decimal
	Total         decimal.Decimal
	AverageRate   decimal.Decimal
	Offers        []OfferLine
	DryRun        bool
	AdditionalMsg string
}

// Notifier 定义周期报告输送接口。
type Notifier interface {
	Notify(ctx context.Context, report CycleReport) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 通知器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "notify_telegram").Logger(),
	}
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, report CycleReport) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(report),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Time("at", report.At).
		Str("currency", report.Currency).
		Int("offers", len(report.Offers)).
		Msg("周期报告已发送 (Telegram)")
	return nil
}

func renderMessage(report CycleReport) string {
	builder := strings.Builder{}
	builder.WriteString("[Lending Cycle]\n")
	builder.WriteString(fmt.Sprintf("At: %s UTC\n", report.At.UTC().Format(time.RFC3339)))
	builder.WriteString(fmt.Sprintf("Currency: %s\n", report.Currency))
	builder.WriteString(fmt.Sprintf("Lent: %s @ %s%% avg\n", report.Lent.StringFixed(8), report.AverageRate.Mul(decimal.NewFromInt(100)).StringFixed(4)))
	builder.WriteString(fmt.Sprintf("Total: %s\n", report.Total.StringFixed(8)))
	for _, offer := range report.Offers {
		builder.WriteString(fmt.Sprintf("Offer: %s @ %s for %dd\n", offer.Amount.StringFixed(8), offer.Rate.StringFixed(6), offer.DurationDays))
	}
	if report.DryRun {
		builder.WriteString("Mode: dry-run (no orders submitted)\n")
	}
	if report.AdditionalMsg != "" {
		builder.WriteString(report.AdditionalMsg)
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
