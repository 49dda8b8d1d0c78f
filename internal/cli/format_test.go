package cli

import (
	"math"
	"regexp"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
)

func TestFormatProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	indianPattern := regexp.MustCompile(`^-?₹(\d{1,2},)*\d{1,3}\.\d{2}$`)

	// Property: prices render with the rupee sign, Indian grouping and two decimals
	properties.Property("FormatIndianCurrency produces valid Indian format", prop.ForAll(
		func(amount float64) bool {
			return indianPattern.MatchString(FormatIndianCurrency(amount))
		},
		gen.Float64Range(-1e12, 1e12),
	))

	// Property: FormatReturn carries the sign of the fraction
	properties.Property("FormatReturn keeps the sign", prop.ForAll(
		func(ret float64) bool {
			got := FormatReturn(ret)
			switch {
			case ret > 0:
				return strings.HasPrefix(got, "+") && strings.HasSuffix(got, "%")
			case ret < 0:
				return strings.HasPrefix(got, "-") && strings.HasSuffix(got, "%")
			}
			return got == "0.00%"
		},
		gen.Float64Range(-1, 1),
	))

	properties.TestingRun(t)
}

func TestIndianNumberFormatExamples(t *testing.T) {
	testCases := []struct {
		amount   float64
		expected string
	}{
		{0, "₹0.00"},
		{1000, "₹1,000.00"},
		{100000, "₹1,00,000.00"},
		{10000000, "₹1,00,00,000.00"},
		{-1234.56, "-₹1,234.56"},
		{2500, "₹2,500.00"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, FormatIndianCurrency(tc.amount))
		})
	}
}

func TestFormatReturnExamples(t *testing.T) {
	assert.Equal(t, "-3.00%", FormatReturn(-0.03))
	assert.Equal(t, "+10.00%", FormatReturn(0.10))
	assert.Equal(t, "0.00%", FormatReturn(0))
	assert.Equal(t, "n/a", FormatReturn(math.NaN()))
	assert.Equal(t, "-0.1200", FormatWeight(-0.12))
	assert.Equal(t, "+0.2500", FormatWeight(0.25))
}

func TestVisibleLen(t *testing.T) {
	assert.Equal(t, 5, visibleLen("\x1b[32mhello\x1b[0m"))
	assert.Equal(t, 9, visibleLen("₹2,500.00"))
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "abc", TruncateString("abc", 5))
	assert.Equal(t, "ab...", TruncateString("abcdefgh", 5))
}
