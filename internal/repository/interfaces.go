// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/wallrank/internal/model"
)

// PostRepository はおすすめスコア計算に必要な投稿データ操作のインターフェース。
// 投稿本体のCRUDは外部サービスが担当し、ここではスコア関連カラムのみを書き込む。
type PostRepository interface {
	// FindEligiblePosts はスコア計算対象の投稿を取得する。
	// status = 'published' かつ created_at が now - maxAgeDays 以降の投稿を返す。
	// created_at が NULL の公開投稿も含めて返し、呼び出し側でスキップ判定する。
	FindEligiblePosts(ctx context.Context, maxAgeDays int, now time.Time) ([]model.PostFacts, error)

	// FindFactsByID は指定IDの投稿のスコア計算用データを取得する。見つからない場合はnilを返す。
	FindFactsByID(ctx context.Context, id string) (*model.PostFacts, error)

	// FindAdminRecommended は管理者おすすめ（is_recommended = true）の公開投稿を
	// recommended_at の新しい順に最大 limit 件取得する。
	FindAdminRecommended(ctx context.Context, limit int) ([]model.Candidate, error)

	// FindAutoRecommended は自動おすすめ（auto_recommended = true）の公開投稿を
	// recommend_score 降順で取得する。minInteractions > 0 の場合は反応数がそれ未満の投稿を除外する。
	FindAutoRecommended(ctx context.Context, minInteractions int) ([]model.Candidate, error)

	// FindByIDs は指定IDの投稿を画像・トピック付きで取得する。
	// 戻り値の順序は不定で、存在しないIDは無視される。
	FindByIDs(ctx context.Context, ids []string) ([]*model.Post, error)

	// UpdateScoreFields は recommend_score、auto_recommended、score_updated_at を更新する。
	// is_recommended は変更しない。
	UpdateScoreFields(ctx context.Context, id string, fields model.ScoreFields) error

	// ClearAutoRecommended は指定投稿の auto_recommended を false にする。スコアは保持する。
	ClearAutoRecommended(ctx context.Context, id string) error

	// ClearStaleAutoRecommended は公開期間外または非公開になった投稿の auto_recommended を
	// 一括で false にし、更新件数を返す。
	ClearStaleAutoRecommended(ctx context.Context, maxAgeDays int, now time.Time) (int64, error)

	// ScoreStats はスコアの鮮度表示用の集計値を返す。
	ScoreStats(ctx context.Context) (*model.ScoreStats, error)
}

// ScoreWatermarkReader は永続化されたスコア更新の最新時刻を返す。
// どのプロセスが再計算しても値が進むため、プロセスをまたいだキャッシュ世代の判定に使う。
type ScoreWatermarkReader interface {
	LatestScoreUpdate(ctx context.Context) (*time.Time, error)
}

// SettingsRepository はおすすめ設定（キー/値）の永続化インターフェース。
type SettingsRepository interface {
	// GetByKey は指定キーの値を取得する。存在しない場合は ok = false を返す。
	GetByKey(ctx context.Context, key string) (value string, ok bool, err error)

	// BulkGet は指定キーの値をまとめて取得する。存在しないキーはマップに含まれない。
	BulkGet(ctx context.Context, keys []string) (map[string]string, error)

	// Upsert は複数のキー/値を同一トランザクションで登録または更新する。
	Upsert(ctx context.Context, values map[string]string) error
}
