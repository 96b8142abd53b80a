package notify

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TELEGRAM NOTIFIER - Risk and execution alerts
// ═══════════════════════════════════════════════════════════════════════════════
//
// Alert-only: the control plane is the API, so no commands mutate state
// from chat. Implements the risk monitor's Notifier interface. Without a
// token the process runs with alerts disabled.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Telegram pushes alerts to a single authorized chat.
type Telegram struct {
	mu      sync.Mutex
	api     *tgbotapi.BotAPI
	chatID  int64
	enabled bool
}

// NewTelegram creates the notifier from TELEGRAM_BOT_TOKEN and
// TELEGRAM_CHAT_ID. Missing config is not an error: alerts are optional.
func NewTelegram() (*Telegram, error) {
	token := os.Getenv("TELEGRAM_BOT_TOKEN")
	chatIDStr := os.Getenv("TELEGRAM_CHAT_ID")
	if token == "" || chatIDStr == "" {
		log.Info().Msg("Telegram alerts disabled, no token configured")
		return &Telegram{}, nil
	}

	chatID, err := strconv.ParseInt(chatIDStr, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	log.Info().Str("username", api.Self.UserName).Msg("🤖 Telegram notifier initialized")
	return &Telegram{api: api, chatID: chatID, enabled: true}, nil
}

// Enabled reports whether alerts actually leave the process.
func (t *Telegram) Enabled() bool { return t.enabled }

// EmergencyShutdown alerts that the drawdown latch fired.
func (t *Telegram) EmergencyShutdown(userID string, drawdownPct decimal.Decimal) {
	t.sendMarkdown(fmt.Sprintf(`🚨 *EMERGENCY SHUTDOWN*
━━━━━━━━━━━━━━━━━━━━

👤 User: *%s*
📉 Drawdown: *%s%%*

All trading halted. Manual reset required.`,
		userID, drawdownPct.StringFixed(2)))
}

// StrategyDisabled alerts that a budget auto-disabled a strategy.
func (t *Telegram) StrategyDisabled(userID, strategy, symbol, reason string) {
	t.sendMarkdown(fmt.Sprintf(`⛔ *STRATEGY DISABLED*
━━━━━━━━━━━━━━━━━━━━

👤 User: *%s*
🎯 Strategy: *%s* — %s
📝 Reason: _%s_`,
		userID, strategy, symbol, reason))
}

// OrderFilled alerts on a fill.
func (t *Telegram) OrderFilled(userID, symbol, side string, size, price decimal.Decimal) {
	t.sendMarkdown(fmt.Sprintf(`✅ *ORDER FILLED*

📊 %s %s
📦 Size: *%s* lots
💵 Price: *%s*
👤 %s`,
		symbol, side, size.StringFixed(2), price.StringFixed(5), userID))
}

// TradeClosed alerts on a closed trade with its PnL.
func (t *Telegram) TradeClosed(userID, symbol, exitReason string, pnl decimal.Decimal) {
	emoji := "📈"
	sign := "+"
	if pnl.IsNegative() {
		emoji = "📉"
		sign = ""
	}
	t.sendMarkdown(fmt.Sprintf(`%s *TRADE CLOSED*

📊 %s (%s)
💵 P&L: *%s$%s*
👤 %s`,
		emoji, symbol, exitReason, sign, pnl.StringFixed(2), userID))
}

// DailySummary sends the end-of-day digest.
func (t *Telegram) DailySummary(userID string, trades int, dailyPnL, equity decimal.Decimal) {
	emoji := "📈"
	sign := "+"
	if dailyPnL.IsNegative() {
		emoji = "📉"
		sign = ""
	}
	t.sendMarkdown(fmt.Sprintf(`%s *DAILY SUMMARY* — %s
━━━━━━━━━━━━━━━━━━━━

📊 Trades: *%d*
💵 P&L: *%s$%s*
💰 Equity: *$%s*`,
		emoji, time.Now().UTC().Format("Jan 2"),
		trades, sign, dailyPnL.StringFixed(2), equity.StringFixed(2)))
}

// Startup announces the process coming up.
func (t *Telegram) Startup(mode, execMode string) {
	t.sendMarkdown(fmt.Sprintf(`🚀 *GUARDRAIL STARTED*
━━━━━━━━━━━━━━━━━━━━

🎛 Mode: *%s*
🔌 Execution: *%s*`,
		mode, execMode))
}

func (t *Telegram) sendMarkdown(text string) {
	if !t.enabled {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = "Markdown"
	if _, err := t.api.Send(msg); err != nil {
		log.Error().Err(err).Msg("Failed to send Telegram message")
	}
}
