// Package security masks credentials and validates identifiers taken from
// user input before they reach storage, logs or notification channels.
package security

import (
	"regexp"
	"strings"

	"newstrace/internal/config"
)

// sensitivePatterns match credentials that can surface inside error strings,
// most notably request URLs carrying a Telegram bot token.
var sensitivePatterns = []*regexp.Regexp{
	regexp.MustCompile(`bot(\d{5,}:[A-Za-z0-9_-]{20,})`),
	regexp.MustCompile(`(?i)(?:api[_-]?key|api[_-]?secret|access[_-]?token|password|token)[=:]\s*["']?([^\s"'&]+)`),
	regexp.MustCompile(`(?i)authorization:\s*token\s+([^\s]+)`),
}

// MaskCredential masks a credential value for display.
func MaskCredential(value string) string {
	if len(value) == 0 {
		return ""
	}
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	if len(value) <= 8 {
		return value[:2] + strings.Repeat("*", len(value)-2)
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}

// MaskString masks every credential found in s, leaving the rest intact.
func MaskString(s string) string {
	for _, pattern := range sensitivePatterns {
		s = pattern.ReplaceAllStringFunc(s, func(match string) string {
			sub := pattern.FindStringSubmatchIndex(match)
			if len(sub) < 4 || sub[2] < 0 {
				return MaskCredential(match)
			}
			return match[:sub[2]] + MaskCredential(match[sub[2]:sub[3]]) + match[sub[3]:]
		})
	}
	return s
}

// RedactConfig returns a copy of cfg with every secret masked.
func RedactConfig(cfg *config.Config) config.Config {
	out := *cfg
	out.Price.Kite.APIKey = MaskCredential(cfg.Price.Kite.APIKey)
	out.Price.Kite.AccessToken = MaskCredential(cfg.Price.Kite.AccessToken)
	out.Notifications.Telegram.BotToken = MaskCredential(cfg.Notifications.Telegram.BotToken)
	out.Notifications.Email.Password = MaskCredential(cfg.Notifications.Email.Password)
	out.Redis.Password = MaskCredential(cfg.Redis.Password)
	return out
}
