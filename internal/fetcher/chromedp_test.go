package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chromePath(t *testing.T) string {
	for _, name := range []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	t.Skip("no Chrome binary available")
	return ""
}

func TestDefaultChromeOptions(t *testing.T) {
	opts := DefaultChromeOptions()

	assert.True(t, opts.Headless)
	assert.Equal(t, DefaultUserAgent, opts.UserAgent)
	assert.Equal(t, 45*time.Second, opts.Timeout)
}

func TestChromeFetcherRendersScriptPrices(t *testing.T) {
	path := chromePath(t)

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><body><div id="price"></div>
<script>document.getElementById("price").textContent = "R$ 1.099,90 à vista";</script></body></html>`)
	}))
	defer ts.Close()

	opts := DefaultChromeOptions()
	opts.ExecPath = path
	opts.Settle = 100 * time.Millisecond
	f := NewChromeFetcher(opts, nil)
	defer f.Close()

	html, err := f.Fetch(context.Background(), ts.URL)
	require.NoError(t, err)
	assert.Contains(t, html, "R$ 1.099,90 à vista")
}
