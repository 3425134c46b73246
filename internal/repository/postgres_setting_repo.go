package repository

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/lib/pq"
)

// コンパイル時にインターフェースの実装を検証する。
var _ SettingsRepository = (*PostgresSettingRepo)(nil)

// PostgresSettingRepo はPostgreSQLを使用したおすすめ設定リポジトリ。
// recommendation_settings テーブルにキー/値形式で保存する。
type PostgresSettingRepo struct {
	db *sql.DB
}

// NewPostgresSettingRepo はPostgresSettingRepoを生成する。
func NewPostgresSettingRepo(db *sql.DB) *PostgresSettingRepo {
	return &PostgresSettingRepo{db: db}
}

// GetByKey は指定キーの値を取得する。
func (r *PostgresSettingRepo) GetByKey(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx,
		`SELECT value FROM recommendation_settings WHERE key = $1`,
		key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("設定値の取得に失敗しました: %w", err)
	}
	return value, true, nil
}

// BulkGet は指定キーの値をまとめて取得する。
func (r *PostgresSettingRepo) BulkGet(ctx context.Context, keys []string) (map[string]string, error) {
	values := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return values, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT key, value FROM recommendation_settings WHERE key = ANY($1)`,
		pq.Array(keys),
	)
	if err != nil {
		return nil, fmt.Errorf("設定値の一括取得に失敗しました: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, fmt.Errorf("設定値の読み取りに失敗しました: %w", err)
		}
		values[k] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("設定値のイテレーションに失敗しました: %w", err)
	}
	return values, nil
}

// Upsert は複数のキー/値を同一トランザクションで登録または更新する。
func (r *PostgresSettingRepo) Upsert(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer tx.Rollback()

	// キー順に更新して同時更新時のロック順序を固定する
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO recommendation_settings (key, value, updated_at)
			 VALUES ($1, $2, now())
			 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`,
			k, values[k],
		); err != nil {
			return fmt.Errorf("設定値の保存に失敗しました (%s): %w", k, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("設定値の保存のコミットに失敗しました: %w", err)
	}
	return nil
}
