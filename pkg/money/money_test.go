package money

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		minor    int64
		currency string
	}{
		{"positive", 1234, USD},
		{"zero", 0, USD},
		{"negative", -5000, USD},
		{"euro", 1000, EUR},
		{"yen (no decimals)", 10000, JPY},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := New(tt.minor, tt.currency)
			assert.Equal(t, tt.minor, m.Amount())
			assert.Equal(t, tt.currency, m.Currency())
		})
	}
}

func TestNewFromDecimal(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		currency string
		want     int64
	}{
		{"precise decimal", "123.45", USD, 12345},
		{"many decimals", "99.999", USD, 10000},
		{"whole number", "500", USD, 50000},
		{"negative", "-25.50", USD, -2550},
		{"yen", "1500", JPY, 1500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewFromDecimal(decimal.RequireFromString(tt.amount), tt.currency)
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.Amount())
		})
	}
}

func TestNewFromDecimal_OutOfRange(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		currency string
	}{
		{"just above max cents", "92233720368547758.08", USD},
		{"just below min cents", "-92233720368547758.09", USD},
		{"exponent", "1e20", USD},
		{"huge yen", "100000000000000000000", JPY},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFromDecimal(decimal.RequireFromString(tt.amount), tt.currency)
			assert.ErrorIs(t, err, ErrAmountOutOfRange)
		})
	}
}

func TestNewFromDecimal_Bounds(t *testing.T) {
	m, err := NewFromDecimal(decimal.RequireFromString("92233720368547758.07"), USD)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), m.Amount())

	m, err = NewFromDecimal(decimal.RequireFromString("-92233720368547758.08"), USD)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MinInt64), m.Amount())
}

func TestNewFromString(t *testing.T) {
	tests := []struct {
		name     string
		amount   string
		currency string
		european bool
		want     int64
		wantErr  bool
	}{
		{"simple", "123.45", USD, false, 12345, false},
		{"with comma thousands", "1,234.56", USD, false, 123456, false},
		{"european format", "1.234,56", EUR, true, 123456, false},
		{"with dollar sign", "$99.99", USD, false, 9999, false},
		{"brazilian real", "R$10.00", BRL, false, 1000, false},
		{"with euro sign", "€50,00", EUR, true, 5000, false},
		{"with spaces", "  100.00  ", USD, false, 10000, false},
		{"negative sign", "-4.50", USD, false, -450, false},
		{"accounting negative", "(4.50)", USD, false, -450, false},
		{"invalid", "abc", USD, false, 0, true},
		{"empty", "   ", USD, false, 0, true},
		{"symbol only", "$", USD, false, 0, true},
		{"overflows int64", "100000000000000000000", USD, false, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewFromString(tt.amount, tt.currency, tt.european)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, m.Amount())
		})
	}
}

func TestParseDecimal_Empty(t *testing.T) {
	_, err := ParseDecimal("", false)
	assert.ErrorIs(t, err, ErrEmptyAmount)
}

func TestAdd(t *testing.T) {
	sum, err := New(1250, USD).Add(New(-250, USD))
	require.NoError(t, err)
	assert.Equal(t, int64(1000), sum.Amount())

	_, err = New(100, USD).Add(New(100, EUR))
	assert.Error(t, err)

	var empty *Money
	sum, err = empty.Add(New(5, USD))
	require.NoError(t, err)
	assert.Equal(t, int64(5), sum.Amount())
}

func TestEquals(t *testing.T) {
	assert.True(t, New(100, USD).Equals(New(100, USD)))
	assert.False(t, New(100, USD).Equals(New(101, USD)))
	assert.True(t, Zero(USD).Equals(nil))
}

func TestString(t *testing.T) {
	assert.Equal(t, "12.50", New(1250, USD).String())
	assert.Equal(t, "-0.05", New(-5, USD).String())
	assert.Equal(t, "1500", New(1500, JPY).String())
}

func TestJSONRoundTrip(t *testing.T) {
	data, err := json.Marshal(New(12345, USD))
	require.NoError(t, err)

	var result map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Equal(t, float64(12345), result["amount"])
	assert.Equal(t, "USD", result["currency"])
	assert.Contains(t, result["display"], "$")

	var m Money
	require.NoError(t, json.Unmarshal([]byte(`{"amount": 9999, "currency": "EUR"}`), &m))
	assert.Equal(t, int64(9999), m.Amount())
	assert.Equal(t, EUR, m.Currency())
}
