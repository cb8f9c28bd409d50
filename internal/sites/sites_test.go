package sites

import (
	"testing"

	"github.com/maltedev/br-price-tracker/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name        string
		site        models.Site
		input       string
		expectedID  string
		expectedURL string
		wantErr     error
	}{
		{
			name:        "kabum numeric id",
			site:        models.SiteKabum,
			input:       " 461699 ",
			expectedID:  "461699",
			expectedURL: "https://www.kabum.com.br/produto/461699",
		},
		{
			name:        "kabum product url",
			site:        models.SiteKabum,
			input:       "https://www.kabum.com.br/produto/461699/placa-de-video-rtx-4060?utm=x",
			expectedID:  "461699",
			expectedURL: "https://www.kabum.com.br/produto/461699",
		},
		{
			name:        "amazon asin",
			site:        models.SiteAmazon,
			input:       "B0BX1Y2Z3A",
			expectedID:  "B0BX1Y2Z3A",
			expectedURL: "https://www.amazon.com.br/dp/B0BX1Y2Z3A",
		},
		{
			name:        "amazon dp url",
			site:        models.SiteAmazon,
			input:       "https://www.amazon.com.br/Echo-Dot/dp/B0BX1Y2Z3A/ref=sr_1_1?keywords=echo",
			expectedID:  "B0BX1Y2Z3A",
			expectedURL: "https://www.amazon.com.br/dp/B0BX1Y2Z3A",
		},
		{
			name:        "amazon gp product url",
			site:        models.SiteAmazon,
			input:       "https://www.amazon.com.br/gp/product/b0bx1y2z3a",
			expectedID:  "B0BX1Y2Z3A",
			expectedURL: "https://www.amazon.com.br/dp/B0BX1Y2Z3A",
		},
		{
			name:    "kabum text",
			site:    models.SiteKabum,
			input:   "placa de video",
			wantErr: ErrInvalidIdentifier,
		},
		{
			name:    "amazon short asin",
			site:    models.SiteAmazon,
			input:   "B0BX1",
			wantErr: ErrInvalidIdentifier,
		},
		{
			name:    "unknown site",
			site:    models.Site("magalu"),
			input:   "123",
			wantErr: ErrUnsupportedSite,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			product, err := Resolve(tt.site, tt.input)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectedID, product.ID)
			assert.Equal(t, tt.expectedURL, product.URL)
			assert.Equal(t, tt.site, product.Site)
		})
	}
}

func TestDetect(t *testing.T) {
	site, ok := Detect("https://www.kabum.com.br/produto/1")
	assert.True(t, ok)
	assert.Equal(t, models.SiteKabum, site)

	site, ok = Detect("https://amazon.com.br/dp/B0BX1Y2Z3A")
	assert.True(t, ok)
	assert.Equal(t, models.SiteAmazon, site)

	_, ok = Detect("https://www.amazon.de/dp/B0BX1Y2Z3A")
	assert.False(t, ok)

	_, ok = Detect("461699")
	assert.False(t, ok)
}

func TestSearchURL(t *testing.T) {
	u, err := SearchURL(models.SiteKabum, "  Placa de Vídeo ")
	require.NoError(t, err)
	assert.Equal(t, "https://www.kabum.com.br/busca/placa-de-v%C3%ADdeo", u)

	u, err = SearchURL(models.SiteAmazon, "echo dot")
	require.NoError(t, err)
	assert.Equal(t, "https://www.amazon.com.br/s?k=echo+dot", u)

	_, err = SearchURL(models.SiteAmazon, "   ")
	assert.Error(t, err)

	_, err = SearchURL(models.Site("x"), "abc")
	assert.ErrorIs(t, err, ErrUnsupportedSite)
}
