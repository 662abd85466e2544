// 包 source：两个上游数据源（国家目录与汇率表）的拉取客户端
// 背景：仅负责网络请求与 JSON 解码，不做业务解释；单条记录是否可用交由 reconcile 判定
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"country-api/internal/logger"
	"country-api/internal/metrics"
)

const (
	SourceCountries = "countries"
	SourceRates     = "rates"

	defaultCountriesURL = "https://restcountries.com/v2/all?fields=name,capital,region,population,flag,currencies"
	defaultRatesURL     = "https://open.er-api.com/v6/latest/USD"
)

// UpstreamError：上游不可达/超时/非 200 的失败，携带来源标识
// 背景：编排层依赖该类型将刷新失败归类为 service-unavailable；解码失败不属于此类
type UpstreamError struct {
	Source string
	Err    error
}

func (e *UpstreamError) Error() string { return "upstream " + e.Source + ": " + e.Err.Error() }
func (e *UpstreamError) Unwrap() error { return e.Err }

// CountriesURL：国家目录地址，可用环境变量覆盖
func CountriesURL() string {
	if v := os.Getenv("COUNTRIES_URL"); v != "" {
		return v
	}
	return defaultCountriesURL
}

// RatesURL：汇率表地址，可用环境变量覆盖
func RatesURL() string {
	if v := os.Getenv("RATES_URL"); v != "" {
		return v
	}
	return defaultRatesURL
}

// Timeout：单次上游请求的超时上限，默认 10s，可用 UPSTREAM_TIMEOUT_SECONDS 覆盖
func Timeout() time.Duration {
	if v := os.Getenv("UPSTREAM_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return 10 * time.Second
}

// fetchJSON：带超时拉取并解码任意 JSON 文档
// 为什么：保留松散类型（UseNumber），在 reconcile 边界再做严格转换
// 异常：网络/状态码错误包装为 UpstreamError；解码错误原样返回（结构性损坏由上层归类为处理失败）
func fetchJSON(ctx context.Context, client *http.Client, src, url string) (any, error) {
	if client == nil {
		client = &http.Client{Timeout: Timeout()}
	}
	ctx, cancel := context.WithTimeout(ctx, Timeout())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &UpstreamError{Source: src, Err: err}
	}
	t0 := time.Now()
	metrics.UpstreamRequestsTotal.WithLabelValues(src).Inc()
	logger.L().Debug("upstream_req", "source", src, "url", url)
	resp, err := client.Do(req)
	if err != nil {
		metrics.UpstreamFailTotal.WithLabelValues(src).Inc()
		logger.L().Error("upstream_http_error", "source", src, "err", err)
		return nil, &UpstreamError{Source: src, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		metrics.UpstreamFailTotal.WithLabelValues(src).Inc()
		logger.L().Error("upstream_bad_status", "source", src, "status", resp.StatusCode)
		return nil, &UpstreamError{Source: src, Err: fmt.Errorf("bad status %d", resp.StatusCode)}
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		metrics.UpstreamFailTotal.WithLabelValues(src).Inc()
		logger.L().Error("upstream_decode_error", "source", src, "err", err)
		return nil, fmt.Errorf("decode %s: %w", src, err)
	}
	dur := time.Since(t0).Milliseconds()
	metrics.UpstreamDurationMs.WithLabelValues(src).Observe(float64(dur))
	logger.L().Debug("upstream_resp", "source", src, "duration_ms", dur)
	return doc, nil
}

// FetchCountries：拉取国家目录原始文档
func FetchCountries(ctx context.Context, client *http.Client) (any, error) {
	return fetchJSON(ctx, client, SourceCountries, CountriesURL())
}

// FetchRates：拉取汇率表原始文档
func FetchRates(ctx context.Context, client *http.Client) (any, error) {
	return fetchJSON(ctx, client, SourceRates, RatesURL())
}
