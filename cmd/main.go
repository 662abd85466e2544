// 程序入口：仅负责读取配置、初始化依赖并启动服务；API 注册在 internal/api 以便扩展
package main

import (
	"context"
	"net/http"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"country-api/internal/api"
	"country-api/internal/cache"
	"country-api/internal/logger"
	"country-api/internal/metrics"
	"country-api/internal/middleware"
	"country-api/internal/migrate"
	"country-api/internal/refresh"
	"country-api/internal/render"
	"country-api/internal/store"
	"country-api/internal/utils"
)

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(filepath.Join("data", "env", ".env"))
	// 日志初始化
	l := logger.Setup()
	l.Debug("log_init_ok")
	apiBase := os.Getenv("API_BASE")
	if apiBase == "" {
		apiBase = "/api"
	}
	l.Debug("config_api_base", "base", apiBase)

	db, err := utils.OpenPostgresFromEnv()
	if err != nil {
		l.Error("db_open_error", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	l.Info("db_open_ok")
	if err := db.Ping(); err != nil {
		l.Error("db_ping_error", "err", err)
	} else {
		l.Info("db_ping_ok")
	}
	st := store.AttachDB(db)
	if err := migrate.EnsureSchema(db); err != nil {
		l.Error("schema_error", "err", err)
		os.Exit(1)
	}

	rc := utils.OpenRedisFromEnv()
	if rc == nil {
		l.Info("redis_disabled")
	} else {
		if err := rc.Ping(context.Background()).Err(); err != nil {
			l.Error("redis_ping_error", "err", err)
		} else {
			l.Info("redis_ping_ok")
		}
	}

	ca := cache.New()
	images := &render.Holder{}
	orch := &refresh.Orchestrator{
		Cache:     ca,
		Store:     st,
		Images:    images,
		Redis:     rc,
		ImagePath: refresh.DefaultImagePath(),
	}

	// 启动回灌：上次落库的快照先行可查，并在非空时重绘汇总图
	if entities, at, err := st.LoadSnapshot(context.Background()); err != nil {
		l.Error("snapshot_load_error", "err", err)
	} else if len(entities) > 0 {
		ca.Restore(entities, at)
		orch.RenderFromCache(context.Background())
		l.Info("snapshot_restored", "entities", len(entities))
	} else {
		l.Info("snapshot_empty")
	}

	// 周期刷新（可选，REFRESH_CRON 配置）
	if c := refresh.StartCron(orch); c != nil {
		defer c.Stop()
	}

	mux := http.NewServeMux()
	apiMux := api.BuildRoutes(ca, st, rc, orch, images)
	mux.Handle(apiBase+"/", http.StripPrefix(apiBase, apiMux))
	mux.Handle(apiBase+"/metrics", metrics.Handler())

	addr := os.Getenv("ADDR")
	if addr == "" {
		addr = ":8080"
	}
	handler := logger.AccessMiddleware(l)(mux)
	handler = middleware.Wrap(handler)
	s := &http.Server{Addr: addr, Handler: handler}
	if os.Getenv("TLS_ENABLE") == "true" {
		certPath := os.Getenv("TLS_CERT_PATH")
		keyPath := os.Getenv("TLS_KEY_PATH")
		if certPath == "" {
			certPath = filepath.Join("data", "certs", "server.crt")
		}
		if keyPath == "" {
			keyPath = filepath.Join("data", "certs", "server.key")
		}
		_ = utils.EnsureSelfSignedCert(certPath, keyPath, "country-api.local")
		l.Info("listening_tls", "addr", addr, "cert", certPath)
		_ = s.ListenAndServeTLS(certPath, keyPath)
		return
	}
	l.Info("listening", "addr", addr)
	_ = s.ListenAndServe()
}
