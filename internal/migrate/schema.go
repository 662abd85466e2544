package migrate

import (
	"database/sql"

	"country-api/internal/logger"
)

// 背景：首次运行自动创建所需表与索引，保障后续快照落库与启动回灌
// 约束：使用 IF NOT EXISTS 避免与既有结构冲突；仅创建最小必需结构
func EnsureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS _country_cache (
            name_key TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            capital TEXT NOT NULL DEFAULT '',
            region TEXT NOT NULL DEFAULT '',
            currency_code TEXT NOT NULL DEFAULT '',
            population BIGINT NOT NULL DEFAULT 0,
            exchange_rate DOUBLE PRECISION,
            estimated_gdp DOUBLE PRECISION,
            flag_url TEXT NOT NULL DEFAULT ''
        )`,
		`CREATE INDEX IF NOT EXISTS idx_country_region ON _country_cache(region)`,
		`CREATE INDEX IF NOT EXISTS idx_country_currency ON _country_cache(currency_code)`,
		`CREATE TABLE IF NOT EXISTS _country_refresh (
            id INT PRIMARY KEY,
            total BIGINT NOT NULL DEFAULT 0,
            last_refreshed_at TIMESTAMPTZ
        )`,
		`INSERT INTO _country_refresh(id, total)
         VALUES(1, 0)
         ON CONFLICT (id) DO NOTHING`,
	}
	for i, s := range stmts {
		logger.L().Debug("schema_exec", "idx", i)
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	logger.L().Debug("schema_done")
	return nil
}
