package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchCountriesDecodesList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/json")
		_, _ = w.Write([]byte(`[{"name":"Nigeria","population":206139589}]`))
	}))
	defer srv.Close()
	t.Setenv("COUNTRIES_URL", srv.URL)

	doc, err := FetchCountries(context.Background(), srv.Client())
	require.NoError(t, err)
	rows, ok := doc.([]any)
	require.True(t, ok)
	assert.Len(t, rows, 1)
}

func TestFetchRatesDecodesDoc(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"result":"success","rates":{"NGN":1600.5}}`))
	}))
	defer srv.Close()
	t.Setenv("RATES_URL", srv.URL)

	doc, err := FetchRates(context.Background(), srv.Client())
	require.NoError(t, err)
	m, ok := doc.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, m, "rates")
}

func TestFetchBadStatusIsUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	t.Setenv("COUNTRIES_URL", srv.URL)

	_, err := FetchCountries(context.Background(), srv.Client())
	var ue *UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, SourceCountries, ue.Source)
}

func TestFetchTimeoutIsUpstreamError(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()
	defer close(release)
	t.Setenv("RATES_URL", srv.URL)
	t.Setenv("UPSTREAM_TIMEOUT_SECONDS", "1")

	_, err := FetchRates(context.Background(), &http.Client{})
	var ue *UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, SourceRates, ue.Source)
}

// 解码失败不是上游不可达：错误不得是 UpstreamError（上层归类为处理失败）
func TestFetchDecodeErrorIsNotUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{{{not json`))
	}))
	defer srv.Close()
	t.Setenv("COUNTRIES_URL", srv.URL)

	_, err := FetchCountries(context.Background(), srv.Client())
	require.Error(t, err)
	var ue *UpstreamError
	assert.False(t, errors.As(err, &ue))
}
