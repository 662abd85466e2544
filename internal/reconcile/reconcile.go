// 包 reconcile：将国家目录与汇率表按货币代码联结，派生估算 GDP 并产出严格类型的缓存实体
// 背景：上游负载在此边界完成松散到严格的转换；松散数据不向内层传播
package reconcile

import (
	"encoding/json"
	"errors"
	"hash/fnv"
	"strconv"
	"strings"

	"country-api/internal/cache"
	"country-api/internal/logger"
)

// ErrUnusablePayload：上游负载结构性不可用（如国家目录不是数组、汇率表缺少 rates 对象）
// 约束：仅在整体结构损坏时返回；个别坏记录只计入联结失败，不中止整个批次
var ErrUnusablePayload = errors.New("unusable upstream payload")

// Result：一次对账的产出
// JoinFailures：缺少匹配汇率或数值解析失败的记录数（实体保留，估值为空）
// Skipped：缺少名称等无法构成实体的记录数（无法入缓存，仅跳过）
type Result struct {
	Entities     []cache.Country
	JoinFailures int
	Skipped      int
}

// Build：执行联结与派生计算
// 算法：先建 货币代码→汇率 映射（重复代码后写覆盖）；逐条转换国家记录；
// 代码命中且人口可解析时计算 estimated_gdp，否则保留实体并置空估值字段
func Build(countriesRaw, ratesRaw any) (*Result, error) {
	rates, err := rateTable(ratesRaw)
	if err != nil {
		return nil, err
	}
	rows, ok := countriesRaw.([]any)
	if !ok {
		return nil, ErrUnusablePayload
	}
	res := &Result{Entities: make([]cache.Country, 0, len(rows))}
	for _, row := range rows {
		m, ok := row.(map[string]any)
		if !ok {
			res.Skipped++
			continue
		}
		name := asName(m["name"])
		if name == "" {
			res.Skipped++
			continue
		}
		e := cache.Country{
			Name:    name,
			Capital: asString(m["capital"]),
			Region:  asString(m["region"]),
			FlagURL: asString(m["flag"]),
		}
		pop, popOK := asInt64(m["population"])
		if popOK && pop >= 0 {
			e.Population = pop
		} else {
			popOK = false
		}
		e.CurrencyCode = firstCurrencyCode(m["currencies"])
		rate, rateOK := rates[strings.ToUpper(e.CurrencyCode)]
		if e.CurrencyCode != "" && rateOK && rate > 0 && popOK {
			gdp := float64(pop) * gdpFactor(name) / rate
			r := rate
			e.ExchangeRate = &r
			e.EstimatedGDP = &gdp
		} else {
			res.JoinFailures++
			logger.L().Debug("reconcile_join_miss",
				"name", name, "currency", e.CurrencyCode, "rate_found", rateOK, "population_ok", popOK)
		}
		res.Entities = append(res.Entities, e)
	}
	logger.L().Info("reconcile_done",
		"entities", len(res.Entities), "join_failures", res.JoinFailures, "skipped", res.Skipped)
	return res, nil
}

// rateTable：从汇率负载提取 代码→汇率 映射
// 约束：缺少 rates 对象视为结构性不可用；单个非数值汇率仅跳过该代码
func rateTable(raw any) (map[string]float64, error) {
	doc, ok := raw.(map[string]any)
	if !ok {
		return nil, ErrUnusablePayload
	}
	rowsAny, ok := doc["rates"]
	if !ok {
		return nil, ErrUnusablePayload
	}
	rows, ok := rowsAny.(map[string]any)
	if !ok {
		return nil, ErrUnusablePayload
	}
	out := make(map[string]float64, len(rows))
	for code, v := range rows {
		if f, ok := asFloat64(v); ok {
			out[strings.ToUpper(code)] = f
		}
	}
	return out, nil
}

// gdpFactor：名称派生的确定性乘数，取值 [1000, 2000)
// 为什么：上游不提供人均产值，采用按名称稳定的伪随机因子，保证相同输入两次刷新产出一致快照
func gdpFactor(name string) float64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.ToLower(name)))
	return 1000 + float64(h.Sum64()%1000)
}

// firstCurrencyCode：取货币列表中第一个非空代码；列表缺失或为空返回空串
func firstCurrencyCode(v any) string {
	list, ok := v.([]any)
	if !ok {
		return ""
	}
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if code := strings.TrimSpace(asString(m["code"])); code != "" {
			return strings.ToUpper(code)
		}
	}
	return ""
}

// asName：名称字段兼容纯字符串与 {common: ...} 对象两种上游形态
func asName(v any) string {
	if s := asString(v); s != "" {
		return s
	}
	if m, ok := v.(map[string]any); ok {
		return strings.TrimSpace(asString(m["common"]))
	}
	return ""
}

func asString(v any) string {
	s, _ := v.(string)
	return strings.TrimSpace(s)
}

func asFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case float64:
		return x, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	}
	return 0, false
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, true
		}
		if f, err := x.Float64(); err == nil && f >= 0 {
			return int64(f), true
		}
		return 0, false
	case float64:
		return int64(x), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		return n, err == nil
	}
	return 0, false
}
