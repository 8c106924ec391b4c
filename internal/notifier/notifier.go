package notifier

import (
	"quorum/internal/config"
	"quorum/internal/logger"
)

// TextNotifier pushes a plain-text message to an external channel.
type TextNotifier interface {
	SendText(text string) error
}

// Nop discards every message. Used when no channel is configured.
type Nop struct{}

func (Nop) SendText(string) error { return nil }

// FromConfig builds the configured notifier, defaulting to Nop.
func FromConfig(cfg config.NotifyConfig) TextNotifier {
	if cfg.Telegram.Enabled {
		return NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
	}
	return Nop{}
}

// Push sends text in the background; delivery failures are logged,
// never surfaced to the caller. Decision flow must not block on a
// chat API.
func Push(n TextNotifier, text string) {
	if n == nil {
		return
	}
	go func() {
		if err := n.SendText(text); err != nil {
			logger.Warnf("notification delivery failed: %v", err)
		}
	}()
}
