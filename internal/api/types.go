package api

import "time"

// 文档注释：状态返回结构（对外）
// 背景：统一对外序列化模型；从未刷新时时间字段输出 null
// 约束：字段稳定；新增字段需评估兼容性与前端依赖
type statusResult struct {
	TotalCountries  int        `json:"total_countries"`
	LastRefreshedAt *time.Time `json:"last_refreshed_at"`
}

// refreshResult：刷新成功的返回结构
type refreshResult struct {
	TotalCountries  int       `json:"total_countries"`
	LastRefreshedAt time.Time `json:"last_refreshed_at"`
}

// errorResult：错误统一以 JSON 包裹返回
type errorResult struct {
	Error string `json:"error"`
}
