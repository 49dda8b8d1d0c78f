package security

import (
	"regexp"
	"strings"

	apperrors "newstrace/internal/errors"
)

var (
	// NSE/BSE trading symbols: uppercase letters, digits, & and -.
	tickerPattern = regexp.MustCompile(`^[A-Z0-9&-]{1,20}$`)

	newsIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,64}$`)
)

// ValidateTicker normalises a ticker and checks its format.
func ValidateTicker(raw string) (string, error) {
	ticker := strings.ToUpper(strings.TrimSpace(raw))
	if ticker == "" {
		return "", apperrors.NewValidationError("ticker", raw, "ticker cannot be empty")
	}
	if !tickerPattern.MatchString(ticker) {
		return "", apperrors.NewValidationError("ticker", raw, "invalid ticker format")
	}
	return ticker, nil
}

// ValidateNewsID trims a news identifier and checks its format.
func ValidateNewsID(raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return "", apperrors.NewValidationError("news_id", raw, "news id is required")
	}
	if !newsIDPattern.MatchString(id) {
		return "", apperrors.NewValidationError("news_id", raw, "invalid news id format")
	}
	return id, nil
}

// SanitizeText removes control characters from free-form text.
func SanitizeText(text string) string {
	var b strings.Builder
	for _, r := range text {
		if r >= 32 && r != 127 {
			b.WriteRune(r)
		}
	}
	return b.String()
}
