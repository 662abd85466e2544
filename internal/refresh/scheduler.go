// 包 refresh：周期刷新调度，运行在服务进程内的后台协程
package refresh

import (
	"context"
	"os"
	"time"

	"github.com/robfig/cron/v3"

	"country-api/internal/logger"
)

// StartCron：按 REFRESH_CRON（标准五段 cron 表达式）周期触发刷新
// 背景：跟随上游更新节奏定期刷新；错误只记录日志，调度继续
// 约束：未配置表达式时不启动；正在执行的刷新会令本次触发被拒绝并跳过
func StartCron(o *Orchestrator) *cron.Cron {
	spec := os.Getenv("REFRESH_CRON")
	if spec == "" {
		logger.L().Info("refresh_cron_disabled")
		return nil
	}
	c := cron.New()
	_, err := c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if _, _, err := o.Refresh(ctx); err != nil {
			logger.L().Error("refresh_cron_error", "err", err)
		}
	})
	if err != nil {
		logger.L().Error("refresh_cron_bad_spec", "spec", spec, "err", err)
		return nil
	}
	c.Start()
	logger.L().Info("refresh_cron_started", "spec", spec)
	return c
}
