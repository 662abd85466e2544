// 离线工具：从数据库快照重绘汇总图并落盘，不经过 HTTP 服务
// 背景：用于排障或在服务外重建 data/cache/summary.png；输出路径可用 RENDER_OUT 覆盖
package main

import (
	"context"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"country-api/internal/logger"
	"country-api/internal/refresh"
	"country-api/internal/render"
	"country-api/internal/store"
	"country-api/internal/utils"
)

func main() {
	_ = godotenv.Load(".env")
	l := logger.Setup()
	db, err := utils.OpenPostgresFromEnv()
	if err != nil {
		l.Error("db_open_error", "err", err)
		os.Exit(1)
	}
	defer db.Close()
	st := store.AttachDB(db)
	entities, at, err := st.LoadSnapshot(context.Background())
	if err != nil {
		l.Error("snapshot_load_error", "err", err)
		os.Exit(1)
	}
	if len(entities) == 0 {
		l.Error("snapshot_empty")
		os.Exit(1)
	}
	png, err := render.Summary(entities, len(entities), at)
	if err != nil {
		l.Error("render_error", "err", err)
		os.Exit(1)
	}
	out := os.Getenv("RENDER_OUT")
	if out == "" {
		out = refresh.DefaultImagePath()
	}
	_ = os.MkdirAll(filepath.Dir(out), 0o755)
	if err := os.WriteFile(out, png, 0o644); err != nil {
		l.Error("render_write_error", "path", out, "err", err)
		os.Exit(1)
	}
	l.Info("render_done", "path", out, "bytes", len(png))
}
