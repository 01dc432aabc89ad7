package app

import (
	"strings"

	"stopguard/internal/config"
	"stopguard/internal/exit"
	"stopguard/internal/gateway/notifier"
	"stopguard/internal/logger"
	"stopguard/internal/ownership"
)

func newNotifier(cfg config.NotifyConfig) notifier.TextNotifier {
	if !cfg.Telegram.Enabled {
		return nil
	}
	return notifier.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
}

// openOwnership 未启用共享登记表时只在进程内记录本管理器的所有权。
func openOwnership(cfg config.OwnershipConfig) (exit.OwnershipRegistry, func() error, error) {
	if !cfg.Enabled {
		return ownership.NewMemory(), nil, nil
	}
	reg, err := ownership.Open(cfg.Path)
	if err != nil {
		return nil, nil, err
	}
	logger.Infof("✓ 所有权登记表 %s", cfg.Path)
	return reg, reg.Close, nil
}

func ownershipSummary(cfg config.OwnershipConfig) string {
	if !cfg.Enabled {
		return "memory"
	}
	return cfg.Path
}

func httpSummary(cfg config.HTTPConfig) string {
	if !cfg.Enabled {
		return "-"
	}
	return cfg.Addr
}

func normalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
