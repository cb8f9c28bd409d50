package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSamePrices(t *testing.T) {
	base := PriceRecord{
		Name:             String("Placa de Vídeo"),
		CashPrice:        Float(899),
		InstallmentTotal: Float(999),
		InstallmentCount: Int(10),
		InstallmentValue: Float(99.9),
	}

	tests := []struct {
		name     string
		other    PriceRecord
		expected bool
	}{
		{"identical prices", base, true},
		{"name is ignored", PriceRecord{Name: String("Outro"), CashPrice: Float(899), InstallmentTotal: Float(999), InstallmentCount: Int(10), InstallmentValue: Float(99.9)}, true},
		{"different cash price", PriceRecord{CashPrice: Float(850), InstallmentTotal: Float(999), InstallmentCount: Int(10), InstallmentValue: Float(99.9)}, false},
		{"missing installment count", PriceRecord{CashPrice: Float(899), InstallmentTotal: Float(999), InstallmentValue: Float(99.9)}, false},
		{"original price appears", PriceRecord{CashPrice: Float(899), InstallmentTotal: Float(999), InstallmentCount: Int(10), InstallmentValue: Float(99.9), OriginalPrice: Float(1299)}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, base.SamePrices(tt.other))
		})
	}
}

func TestParseSite(t *testing.T) {
	site, err := ParseSite("kabum")
	require.NoError(t, err)
	assert.Equal(t, SiteKabum, site)

	site, err = ParseSite("amazon")
	require.NoError(t, err)
	assert.Equal(t, SiteAmazon, site)

	_, err = ParseSite("mercadolivre")
	assert.Error(t, err)
}

func TestFound(t *testing.T) {
	assert.False(t, PriceRecord{CashPrice: Float(10)}.Found())
	assert.True(t, PriceRecord{Name: String("x")}.Found())
}

func TestHasPrice(t *testing.T) {
	assert.False(t, PriceRecord{Name: String("Echo Dot"), InstallmentCount: Int(10)}.HasPrice())
	assert.True(t, PriceRecord{CashPrice: Float(349)}.HasPrice())
	assert.True(t, PriceRecord{InstallmentTotal: Float(379.9)}.HasPrice())
}
