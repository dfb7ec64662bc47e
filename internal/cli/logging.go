// Package cli formats startup output for the command.
package cli

import (
	"fmt"
	"strings"

	"github.com/zeromicro/go-zero/core/logx"

	"perpcore/internal/config"
	"perpcore/pkg/confkit"
)

// ConfigSummaryLines returns human readable lines describing the loaded app config.
func ConfigSummaryLines(cfg *config.Config) []string {
	if cfg == nil {
		return []string{"Configuration: <nil>"}
	}

	store := cfg.Store.Backend
	switch store {
	case config.StoreBadger, config.StoreJournal:
		store += " at " + cfg.StorePath()
	case config.StorePostgres:
		store += ", redis cache " + presence(strings.TrimSpace(cfg.Store.Redis.Host) != "")
	}

	return []string{
		fmt.Sprintf("Environment: %s", cfg.Env),
		fmt.Sprintf("Symbols: %s", strings.Join(cfg.Symbols, ", ")),
		fmt.Sprintf("Store: %s", store),
		fmt.Sprintf("Regime cadence (comprehensive/urgent): %s / %s", cfg.Regime.ComprehensiveInterval, cfg.Regime.UrgentInterval),
		fmt.Sprintf("Risk (global dd/leverage): %.1f%% / %.1fx", cfg.Risk.MaxGlobalDrawdownPct, cfg.Risk.MaxLeverage),
		fmt.Sprintf("Webhook alerts: %s", presence(cfg.Notify.Webhook.URL != "")),
		fmt.Sprintf("Decision events: %s", presence(cfg.Events.Enabled())),
		sectionLine("Strategies config", cfg.Strategies),
		sectionLine("Advisory config", cfg.Advisory),
		sectionLine("Exchange config", cfg.Exchange),
	}
}

// LogConfigSummary emits the configuration summary using logx.
func LogConfigSummary(cfg *config.Config) {
	lines := ConfigSummaryLines(cfg)
	if len(lines) == 0 {
		return
	}
	logx.Info("configuration summary")
	for _, line := range lines {
		logx.Infof("config • %s", line)
	}
}

func presence(ok bool) string {
	if ok {
		return "configured"
	}
	return "not configured"
}

func sectionLine[T any](name string, section confkit.Section[T]) string {
	switch {
	case strings.TrimSpace(section.File) != "":
		return fmt.Sprintf("%s: %s", name, section.File)
	case section.Value != nil:
		return fmt.Sprintf("%s: inline", name)
	default:
		return fmt.Sprintf("%s: defaults", name)
	}
}
