// 包 refresh：刷新编排器，串联 拉取 → 对账 → 落库 → 快照替换 → 渲染
// 背景：唯一跨组件产生副作用的模块；任一阶段失败时缓存、数据库与状态保持原样
package refresh

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"country-api/internal/cache"
	"country-api/internal/logger"
	"country-api/internal/metrics"
	"country-api/internal/reconcile"
	"country-api/internal/render"
	"country-api/internal/source"
)

// ErrInFlight：已有刷新在执行中；策略为拒绝而非排队（对外映射为 409）
var ErrInFlight = errors.New("refresh already in flight")

// ImageKey：Redis 中汇总图字节的键
const ImageKey = "country:summary:png"

// Persister：快照落库接口；由 store.Store 实现，测试中可替换
type Persister interface {
	SaveSnapshot(ctx context.Context, entities []cache.Country, at time.Time) error
}

// Orchestrator：刷新编排器
// 约束：同一时刻至多一个刷新在执行（CAS 抢占）；两路上游并发拉取，全部完成后才进入对账
type Orchestrator struct {
	Cache     *cache.Store
	Store     Persister
	Images    *render.Holder
	Redis     *redis.Client
	Client    *http.Client
	ImagePath string

	inFlight atomic.Bool
}

// DefaultImagePath：汇总图落盘位置，可用 SUMMARY_IMAGE_PATH 覆盖
func DefaultImagePath() string {
	if v := os.Getenv("SUMMARY_IMAGE_PATH"); v != "" {
		return v
	}
	return filepath.Join("data", "cache", "summary.png")
}

// Refresh：执行一次全量刷新，返回新快照大小与刷新时间
// 异常：上游失败返回 *source.UpstreamError（对外 503）；结构性损坏返回解码/对账错误（对外 500）
func (o *Orchestrator) Refresh(ctx context.Context) (int, time.Time, error) {
	if !o.inFlight.CompareAndSwap(false, true) {
		return 0, time.Time{}, ErrInFlight
	}
	defer o.inFlight.Store(false)

	l := logger.L()
	t0 := time.Now()
	l.Info("refresh_begin")

	var (
		wg         sync.WaitGroup
		cRaw, rRaw any
		cErr, rErr error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		cRaw, cErr = source.FetchCountries(ctx, o.Client)
	}()
	go func() {
		defer wg.Done()
		rRaw, rErr = source.FetchRates(ctx, o.Client)
	}()
	wg.Wait()
	if err := pickFetchError(cErr, rErr); err != nil {
		metrics.RefreshTotal.WithLabelValues("fetch_error").Inc()
		l.Error("refresh_fetch_error", "err", err)
		return 0, time.Time{}, err
	}

	res, err := reconcile.Build(cRaw, rRaw)
	if err != nil {
		metrics.RefreshTotal.WithLabelValues("reconcile_error").Inc()
		l.Error("refresh_reconcile_error", "err", err)
		return 0, time.Time{}, err
	}
	metrics.JoinFailuresTotal.Add(float64(res.JoinFailures))

	at := time.Now().UTC()
	if err := o.Store.SaveSnapshot(ctx, res.Entities, at); err != nil {
		metrics.RefreshTotal.WithLabelValues("persist_error").Inc()
		l.Error("refresh_persist_error", "err", err)
		return 0, time.Time{}, err
	}
	o.Cache.Replace(res.Entities, at)

	// 渲染失败不回滚已生效的快照：数据新鲜度优先于汇总图一致性
	o.renderSummary(ctx)

	metrics.RefreshTotal.WithLabelValues("success").Inc()
	metrics.RefreshDurationMs.Observe(float64(time.Since(t0).Milliseconds()))
	total, _ := o.Cache.Status()
	l.Info("refresh_done", "total", total, "join_failures", res.JoinFailures,
		"duration_ms", time.Since(t0).Milliseconds())
	return total, at, nil
}

// pickFetchError：两路错误并存时优先上报上游不可达类错误
func pickFetchError(a, b error) error {
	var ue *source.UpstreamError
	if errors.As(a, &ue) {
		return a
	}
	if errors.As(b, &ue) {
		return b
	}
	if a != nil {
		return a
	}
	return b
}

// renderSummary：根据当前快照重绘汇总图并分发（内存持有者、落盘、可选 Redis）
// 约束：任何一步失败仅记录与计数，不影响刷新结果
func (o *Orchestrator) renderSummary(ctx context.Context) {
	entities := o.Cache.Snapshot()
	total, at := o.Cache.Status()
	png, err := render.Summary(entities, total, at)
	if err != nil {
		metrics.RenderFailTotal.Inc()
		logger.L().Error("render_error", "err", err)
		return
	}
	if o.Images != nil {
		o.Images.Set(png)
	}
	path := o.ImagePath
	if path == "" {
		path = DefaultImagePath()
	}
	_ = os.MkdirAll(filepath.Dir(path), 0o755)
	if err := os.WriteFile(path, png, 0o644); err != nil {
		logger.L().Error("render_write_error", "path", path, "err", err)
	}
	if o.Redis != nil {
		if err := o.Redis.Set(ctx, ImageKey, png, 0).Err(); err != nil {
			logger.L().Debug("render_redis_error", "err", err)
		}
	}
	logger.L().Debug("render_done", "bytes", len(png))
}

// RenderFromCache：在不经过刷新的情况下重绘汇总图（启动回灌后使用）
func (o *Orchestrator) RenderFromCache(ctx context.Context) {
	if total, _ := o.Cache.Status(); total == 0 {
		return
	}
	o.renderSummary(ctx)
}
