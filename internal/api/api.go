// 包 api：集中注册 HTTP API 路由以解耦主入口，便于后续扩展与替换
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"country-api/internal/cache"
	"country-api/internal/metrics"
	"country-api/internal/reconcile"
	"country-api/internal/refresh"
	"country-api/internal/render"
	"country-api/internal/source"
)

// Refresher：刷新触发入口；由 refresh.Orchestrator 实现，测试中可替换
type Refresher interface {
	Refresh(ctx context.Context) (int, time.Time, error)
}

// Deleter：持久层删除入口；内存快照删除成功后同步数据库
type Deleter interface {
	DeleteCountry(ctx context.Context, nameKey string) error
}

// BuildRoutes：构建并返回 API 路由：独立 ServeMux 便于在主入口挂载到 /api 前缀
// 约束：排序等查询参数在此层校验并拒绝，不把非法取值传递到缓存层
func BuildRoutes(ca *cache.Store, del Deleter, rc *redis.Client, ref Refresher, images *render.Holder) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /countries/refresh", func(w http.ResponseWriter, r *http.Request) {
		metrics.RequestsTotal.WithLabelValues("refresh").Inc()
		total, at, err := ref.Refresh(r.Context())
		if err != nil {
			writeRefreshError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, refreshResult{TotalCountries: total, LastRefreshedAt: at})
	})

	mux.HandleFunc("GET /countries", func(w http.ResponseWriter, r *http.Request) {
		metrics.RequestsTotal.WithLabelValues("list").Inc()
		t0 := time.Now()
		q := r.URL.Query()
		sortBy := q.Get("sort")
		if !cache.ValidSort(sortBy) {
			writeError(w, http.StatusBadRequest, "unknown sort: "+sortBy)
			return
		}
		list, err := ca.List(cache.Filter{Region: q.Get("region"), Currency: q.Get("currency")}, sortBy)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, list)
		metrics.RequestDurationMs.Observe(float64(time.Since(t0).Milliseconds()))
	})

	mux.HandleFunc("GET /countries/image", func(w http.ResponseWriter, r *http.Request) {
		metrics.RequestsTotal.WithLabelValues("image").Inc()
		png := images.Get()
		if png == nil && rc != nil {
			// 本进程尚未渲染时回退 Redis 中最近一次分发的图
			if b, err := rc.Get(r.Context(), refresh.ImageKey).Bytes(); err == nil && len(b) > 0 {
				png = b
			}
		}
		if png == nil {
			writeError(w, http.StatusNotFound, "summary image not rendered yet")
			return
		}
		w.Header().Set("content-type", "image/png")
		w.Header().Set("cache-control", "no-store")
		_, _ = w.Write(png)
	})

	mux.HandleFunc("GET /countries/{name}", func(w http.ResponseWriter, r *http.Request) {
		metrics.RequestsTotal.WithLabelValues("get").Inc()
		name := r.PathValue("name")
		key := countryCacheKey(ca.Version(), name)
		if rc != nil {
			if s, err := rc.Get(r.Context(), key).Result(); err == nil && s != "" {
				metrics.RedisHitsTotal.Inc()
				w.Header().Set("content-type", "application/json; charset=utf-8")
				w.Header().Set("cache-control", "no-store")
				_, _ = w.Write([]byte(s))
				return
			}
			metrics.RedisMissesTotal.Inc()
		}
		e, err := ca.Get(name)
		if err != nil {
			writeError(w, http.StatusNotFound, "country not found")
			return
		}
		if rc != nil {
			if b, err := json.Marshal(e); err == nil {
				rc.Set(r.Context(), key, string(b), 24*time.Hour)
			}
		}
		writeJSON(w, http.StatusOK, e)
	})

	mux.HandleFunc("DELETE /countries/{name}", func(w http.ResponseWriter, r *http.Request) {
		metrics.RequestsTotal.WithLabelValues("delete").Inc()
		name := r.PathValue("name")
		key := countryCacheKey(ca.Version(), name)
		if err := ca.Delete(name); err != nil {
			writeError(w, http.StatusNotFound, "country not found")
			return
		}
		if del != nil {
			_ = del.DeleteCountry(r.Context(), cache.Key(name))
		}
		if rc != nil {
			rc.Del(r.Context(), key)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /status", func(w http.ResponseWriter, r *http.Request) {
		metrics.RequestsTotal.WithLabelValues("status").Inc()
		total, at := ca.Status()
		writeJSON(w, http.StatusOK, statusResult{TotalCountries: total, LastRefreshedAt: at})
	})

	return mux
}

// countryCacheKey：响应缓存键内嵌快照版本号
// 为什么：整体替换后版本递增使旧键自然失效；单条删除只需清除自身键，避免 SCAN 清扫
func countryCacheKey(version uint64, name string) string {
	return fmt.Sprintf("country:v%d:%s", version, cache.Key(name))
}

// writeRefreshError：刷新错误到状态码的映射
// 上游不可达 503（附来源）；重复触发 409；结构性损坏等处理失败 500
func writeRefreshError(w http.ResponseWriter, err error) {
	var ue *source.UpstreamError
	switch {
	case errors.Is(err, refresh.ErrInFlight):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &ue):
		writeError(w, http.StatusServiceUnavailable, "could not fetch data from "+ue.Source+": "+ue.Err.Error())
	case errors.Is(err, reconcile.ErrUnusablePayload):
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("content-type", "application/json; charset=utf-8")
	w.Header().Set("cache-control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResult{Error: msg})
}
