// 包 store: 提供与 PostgreSQL 的数据访问层，负责快照落库、启动回灌与单条删除
package store

import (
	"context"
	"database/sql"
	"time"

	"country-api/internal/cache"
	"country-api/internal/logger"

	_ "github.com/lib/pq"
)

// Store: 数据库访问入口，持有连接池并提供快照读写接口
type Store struct {
	db *sql.DB
}

func AttachDB(db *sql.DB) *Store { return &Store{db: db} }

// Open: 使用 DSN 打开数据库连接并配置连接池参数
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// SaveSnapshot: 在单个事务内整体替换缓存表并更新刷新状态
// 背景：删除旧集 + 批量写入新集 + 更新元信息要么全部生效要么全部回滚，保证库中不出现新旧混排
func (s *Store) SaveSnapshot(ctx context.Context, entities []cache.Country, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM _country_cache"); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO _country_cache
        (name_key, name, capital, region, currency_code, population, exchange_rate, estimated_gdp, flag_url)
        VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9)
        ON CONFLICT (name_key) DO UPDATE SET
            name=EXCLUDED.name, capital=EXCLUDED.capital, region=EXCLUDED.region,
            currency_code=EXCLUDED.currency_code, population=EXCLUDED.population,
            exchange_rate=EXCLUDED.exchange_rate, estimated_gdp=EXCLUDED.estimated_gdp,
            flag_url=EXCLUDED.flag_url`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, e := range entities {
		var rate, gdp sql.NullFloat64
		if e.ExchangeRate != nil {
			rate = sql.NullFloat64{Float64: *e.ExchangeRate, Valid: true}
		}
		if e.EstimatedGDP != nil {
			gdp = sql.NullFloat64{Float64: *e.EstimatedGDP, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx, cache.Key(e.Name), e.Name, e.Capital, e.Region,
			e.CurrencyCode, e.Population, rate, gdp, e.FlagURL); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE _country_refresh SET total=$1, last_refreshed_at=$2 WHERE id=1",
		len(entities), at); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	logger.L().Info("snapshot_saved", "entities", len(entities))
	return nil
}

// LoadSnapshot: 启动时回灌上次落库的快照与刷新时间
// 约束：空库返回空切片与 nil 时间，不视为错误
func (s *Store) LoadSnapshot(ctx context.Context) ([]cache.Country, *time.Time, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, capital, region, currency_code,
        population, exchange_rate, estimated_gdp, flag_url FROM _country_cache ORDER BY name_key`)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	var out []cache.Country
	for rows.Next() {
		var e cache.Country
		var rate, gdp sql.NullFloat64
		if err := rows.Scan(&e.Name, &e.Capital, &e.Region, &e.CurrencyCode,
			&e.Population, &rate, &gdp, &e.FlagURL); err != nil {
			return nil, nil, err
		}
		if rate.Valid {
			v := rate.Float64
			e.ExchangeRate = &v
		}
		if gdp.Valid {
			v := gdp.Float64
			e.EstimatedGDP = &v
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	var at sql.NullTime
	row := s.db.QueryRowContext(ctx, "SELECT last_refreshed_at FROM _country_refresh WHERE id=1")
	_ = row.Scan(&at)
	var refreshedAt *time.Time
	if at.Valid {
		t := at.Time
		refreshedAt = &t
	}
	logger.L().Info("snapshot_loaded", "entities", len(out))
	return out, refreshedAt, nil
}

// DeleteCountry: 删除单条记录并同步总数
// 背景：与内存快照的删除保持一致；记录不存在时由内存层先行返回未找到，这里不再重复判定
func (s *Store) DeleteCountry(ctx context.Context, nameKey string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM _country_cache WHERE name_key=$1", nameKey); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE _country_refresh SET total=(SELECT COUNT(1) FROM _country_cache) WHERE id=1")
	return err
}
