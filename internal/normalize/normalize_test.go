package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	tests := []struct {
		input    string
		expected string
		ok       bool
	}{
		{"2024-03-15", "2024-03-15", true},
		{"2024-03-15 18:30:00", "2024-03-15", true},
		{"2024-03-15T18:30", "2024-03-15", true},
		{"2024-03-15T18:30:00.123456", "2024-03-15", true},
		{"15.03.2024", "2024-03-15", true},
		{"15/03/2024", "2024-03-15", true},
		{"2024/03/15", "2024-03-15", true},
		{"2024.03.15", "2024-03-15", true},
		{"15-03-2024", "2024-03-15", true},
		{"15.03.2024 18:30:00", "2024-03-15", true},
		{"  2024-03-15  ", "2024-03-15", true},
		{"", "", false},
		{"not a date", "", false},
		{"2024-13-45", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseDate(tt.input)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.expected, got.Format(time.DateOnly))
			}
		})
	}
}

func TestParseFloat(t *testing.T) {
	tests := []struct {
		input    string
		expected float64
		ok       bool
	}{
		{"1234.56", 1234.56, true},
		{"1234,56", 1234.56, true},
		{"1 234,56", 1234.56, true},
		{"1 234,56", 1234.56, true},
		{"1,234.56", 1234.56, true},
		{"-500", -500, true},
		{"1 500 ₽", 1500, true},
		{"$99.90", 99.9, true},
		{"", 0, false},
		{"abc", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseFloat(tt.input)
			require.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.InDelta(t, tt.expected, got, 1e-9)
			}
		})
	}
}

func TestRulesApply(t *testing.T) {
	assert.Equal(t, "hello", Rules{Trim: true}.Apply("  hello  "))
	assert.Equal(t, "hello", Rules{Lowercase: true}.Apply("HeLLo"))
	assert.Equal(t, "HELLO", Rules{Uppercase: true}.Apply("hello"))
	// uppercase wins when both case rules are set
	assert.Equal(t, "HELLO", Rules{Lowercase: true, Uppercase: true}.Apply("Hello"))
	assert.Equal(t, "  raw  ", Rules{}.Apply("  raw  "))
}

func TestHeader(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"Order ID", "order id"},
		{"Сумма, руб.", "сумма руб"},
		{"  transaction_id  ", "transaction id"},
		{"Дата/время", "дата время"},
		{"", ""},
	}
	for _, tt := range tests {
		got := Header(tt.input)
		assert.Equal(t, tt.expected, got)
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", Truncate("abc", 5))
	assert.Equal(t, "abcde", Truncate("abcdefg", 5))
	assert.Equal(t, "привет", Truncate("привет мир", 6))
}
