package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/wallrank/internal/model"
)

// コンパイル時にインターフェースの実装を検証する。
var _ PostRepository = (*PostgresPostRepo)(nil)
var _ ScoreWatermarkReader = (*PostgresPostRepo)(nil)

// PostgresPostRepo はPostgreSQLを使用した投稿リポジトリ。
type PostgresPostRepo struct {
	db *sql.DB
}

// NewPostgresPostRepo はPostgresPostRepoを生成する。
func NewPostgresPostRepo(db *sql.DB) *PostgresPostRepo {
	return &PostgresPostRepo{db: db}
}

// factsColumns はスコア計算用データの取得列。
// 画像数・トピック数は相関サブクエリで、本文長は char_length で集計する。
const factsColumns = `p.id, p.author_id, p.status,
		COALESCE(p.like_count, 0), COALESCE(p.comment_count, 0),
		COALESCE(p.favorite_count, 0), COALESCE(p.view_count, 0),
		(SELECT count(*) FROM post_images i WHERE i.post_id = p.id),
		char_length(COALESCE(p.content, '')),
		(SELECT count(*) FROM post_topics t WHERE t.post_id = p.id),
		p.created_at`

// scanFacts は factsColumns の1行を PostFacts に読み込む。
func scanFacts(row interface{ Scan(...any) error }) (model.PostFacts, error) {
	var f model.PostFacts
	var createdAt sql.NullTime
	if err := row.Scan(
		&f.ID, &f.AuthorID, &f.Status,
		&f.LikeCount, &f.CommentCount, &f.FavoriteCount, &f.ViewCount,
		&f.ImageCount, &f.ContentLength, &f.TopicCount,
		&createdAt,
	); err != nil {
		return f, err
	}
	f.CreatedAt = nullTimePtr(createdAt)
	return f, nil
}

// FindEligiblePosts はスコア計算対象の投稿を取得する。
func (r *PostgresPostRepo) FindEligiblePosts(ctx context.Context, maxAgeDays int, now time.Time) ([]model.PostFacts, error) {
	cutoff := now.AddDate(0, 0, -maxAgeDays)

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+factsColumns+`
		 FROM posts p
		 WHERE p.status = 'published'
		   AND (p.created_at IS NULL OR p.created_at >= $1)
		 ORDER BY p.created_at DESC NULLS LAST, p.id`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("スコア計算対象投稿の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var posts []model.PostFacts
	for rows.Next() {
		f, err := scanFacts(rows)
		if err != nil {
			return nil, fmt.Errorf("スコア計算対象投稿の読み取りに失敗しました: %w", err)
		}
		posts = append(posts, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("スコア計算対象投稿のイテレーションに失敗しました: %w", err)
	}
	return posts, nil
}

// FindFactsByID は指定IDの投稿のスコア計算用データを取得する。見つからない場合はnilを返す。
func (r *PostgresPostRepo) FindFactsByID(ctx context.Context, id string) (*model.PostFacts, error) {
	f, err := scanFacts(r.db.QueryRowContext(ctx,
		`SELECT `+factsColumns+` FROM posts p WHERE p.id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("投稿の取得に失敗しました: %w", err)
	}
	return &f, nil
}

// candidateColumns はおすすめ候補の取得列。
const candidateColumns = `p.id, p.author_id, p.recommend_score,
		COALESCE(p.like_count, 0) + COALESCE(p.comment_count, 0) + COALESCE(p.favorite_count, 0),
		p.is_recommended, p.recommended_at, p.score_updated_at`

func (r *PostgresPostRepo) queryCandidates(ctx context.Context, query string, args ...any) ([]model.Candidate, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candidates []model.Candidate
	for rows.Next() {
		var c model.Candidate
		var recommendedAt, scoreUpdatedAt sql.NullTime
		if err := rows.Scan(
			&c.ID, &c.AuthorID, &c.Score, &c.Interactions,
			&c.Pinned, &recommendedAt, &scoreUpdatedAt,
		); err != nil {
			return nil, err
		}
		c.RecommendedAt = nullTimePtr(recommendedAt)
		c.ScoreUpdatedAt = nullTimePtr(scoreUpdatedAt)
		candidates = append(candidates, c)
	}
	return candidates, rows.Err()
}

// FindAdminRecommended は管理者おすすめの公開投稿を recommended_at の新しい順に取得する。
func (r *PostgresPostRepo) FindAdminRecommended(ctx context.Context, limit int) ([]model.Candidate, error) {
	if limit <= 0 {
		return nil, nil
	}
	candidates, err := r.queryCandidates(ctx,
		`SELECT `+candidateColumns+`
		 FROM posts p
		 WHERE p.status = 'published' AND p.is_recommended = true
		 ORDER BY p.recommended_at DESC NULLS LAST, p.id
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("管理者おすすめ投稿の取得に失敗しました: %w", err)
	}
	return candidates, nil
}

// FindAutoRecommended は自動おすすめの公開投稿を recommend_score 降順で取得する。
func (r *PostgresPostRepo) FindAutoRecommended(ctx context.Context, minInteractions int) ([]model.Candidate, error) {
	candidates, err := r.queryCandidates(ctx,
		`SELECT `+candidateColumns+`
		 FROM posts p
		 WHERE p.status = 'published' AND p.auto_recommended = true
		   AND COALESCE(p.like_count, 0) + COALESCE(p.comment_count, 0) + COALESCE(p.favorite_count, 0) >= $1
		 ORDER BY p.recommend_score DESC, p.id`,
		minInteractions,
	)
	if err != nil {
		return nil, fmt.Errorf("自動おすすめ投稿の取得に失敗しました: %w", err)
	}
	return candidates, nil
}

// FindByIDs は指定IDの投稿を画像・トピック付きで取得する。
func (r *PostgresPostRepo) FindByIDs(ctx context.Context, ids []string) ([]*model.Post, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT id, author_id, status, COALESCE(content, ''),
		        COALESCE(like_count, 0), COALESCE(comment_count, 0),
		        COALESCE(favorite_count, 0), COALESCE(view_count, 0),
		        recommend_score, auto_recommended, is_recommended,
		        recommended_at, score_updated_at, created_at, updated_at
		 FROM posts WHERE id = ANY($1)`,
		pq.Array(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("投稿の一括取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var posts []*model.Post
	byID := make(map[string]*model.Post, len(ids))
	for rows.Next() {
		p := &model.Post{}
		var recommendedAt, scoreUpdatedAt, createdAt sql.NullTime
		if err := rows.Scan(
			&p.ID, &p.AuthorID, &p.Status, &p.Content,
			&p.LikeCount, &p.CommentCount, &p.FavoriteCount, &p.ViewCount,
			&p.RecommendScore, &p.AutoRecommended, &p.IsRecommended,
			&recommendedAt, &scoreUpdatedAt, &createdAt, &p.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("投稿の読み取りに失敗しました: %w", err)
		}
		p.RecommendedAt = nullTimePtr(recommendedAt)
		p.ScoreUpdatedAt = nullTimePtr(scoreUpdatedAt)
		p.CreatedAt = nullTimePtr(createdAt)
		posts = append(posts, p)
		byID[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("投稿のイテレーションに失敗しました: %w", err)
	}

	if err := r.attachImages(ctx, ids, byID); err != nil {
		return nil, err
	}
	if err := r.attachTopics(ctx, ids, byID); err != nil {
		return nil, err
	}
	return posts, nil
}

func (r *PostgresPostRepo) attachImages(ctx context.Context, ids []string, byID map[string]*model.Post) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT post_id, id, url, sort_order
		 FROM post_images WHERE post_id = ANY($1)
		 ORDER BY post_id, sort_order, id`,
		pq.Array(ids),
	)
	if err != nil {
		return fmt.Errorf("投稿画像の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var postID string
		var img model.PostImage
		if err := rows.Scan(&postID, &img.ID, &img.URL, &img.SortOrder); err != nil {
			return fmt.Errorf("投稿画像の読み取りに失敗しました: %w", err)
		}
		if p, ok := byID[postID]; ok {
			p.Images = append(p.Images, img)
		}
	}
	return rows.Err()
}

func (r *PostgresPostRepo) attachTopics(ctx context.Context, ids []string, byID map[string]*model.Post) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT pt.post_id, t.id, t.name
		 FROM post_topics pt
		 INNER JOIN topics t ON t.id = pt.topic_id
		 WHERE pt.post_id = ANY($1)
		 ORDER BY pt.post_id, t.name`,
		pq.Array(ids),
	)
	if err != nil {
		return fmt.Errorf("投稿トピックの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var postID string
		var topic model.Topic
		if err := rows.Scan(&postID, &topic.ID, &topic.Name); err != nil {
			return fmt.Errorf("投稿トピックの読み取りに失敗しました: %w", err)
		}
		if p, ok := byID[postID]; ok {
			p.Topics = append(p.Topics, topic)
		}
	}
	return rows.Err()
}

// UpdateScoreFields はスコア関連カラムを更新する。
func (r *PostgresPostRepo) UpdateScoreFields(ctx context.Context, id string, fields model.ScoreFields) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE posts SET recommend_score = $2, auto_recommended = $3, score_updated_at = $4
		 WHERE id = $1`,
		id, fields.RecommendScore, fields.AutoRecommended, fields.ScoreUpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("スコアの更新に失敗しました: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("スコア更新件数の取得に失敗しました: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("スコア更新対象の投稿が存在しません: %s", id)
	}
	return nil
}

// ClearAutoRecommended は指定投稿の auto_recommended を false にする。
func (r *PostgresPostRepo) ClearAutoRecommended(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE posts SET auto_recommended = false WHERE id = $1 AND auto_recommended = true`,
		id,
	)
	if err != nil {
		return fmt.Errorf("自動おすすめフラグの解除に失敗しました: %w", err)
	}
	return nil
}

// ClearStaleAutoRecommended は公開期間外または非公開の投稿の auto_recommended を解除する。
func (r *PostgresPostRepo) ClearStaleAutoRecommended(ctx context.Context, maxAgeDays int, now time.Time) (int64, error) {
	cutoff := now.AddDate(0, 0, -maxAgeDays)

	res, err := r.db.ExecContext(ctx,
		`UPDATE posts SET auto_recommended = false, score_updated_at = $2
		 WHERE auto_recommended = true
		   AND (status <> 'published' OR created_at IS NULL OR created_at < $1)`,
		cutoff, now,
	)
	if err != nil {
		return 0, fmt.Errorf("期限切れ自動おすすめの解除に失敗しました: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("期限切れ自動おすすめの解除件数の取得に失敗しました: %w", err)
	}
	return n, nil
}

// ScoreStats はスコアの鮮度表示用の集計値を返す。
func (r *PostgresPostRepo) ScoreStats(ctx context.Context) (*model.ScoreStats, error) {
	stats := &model.ScoreStats{}
	var last sql.NullTime
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FILTER (WHERE status = 'published'),
		        count(*) FILTER (WHERE status = 'published' AND auto_recommended),
		        count(*) FILTER (WHERE status = 'published' AND is_recommended),
		        max(score_updated_at)
		 FROM posts`,
	).Scan(&stats.PublishedCount, &stats.AutoRecommendedCount, &stats.AdminRecommendedCount, &last)
	if err != nil {
		return nil, fmt.Errorf("スコア集計の取得に失敗しました: %w", err)
	}
	stats.LastScoreUpdatedAt = nullTimePtr(last)
	return stats, nil
}

// LatestScoreUpdate は全投稿のうち最も新しい score_updated_at を返す。
// 一度もスコアが書き込まれていない場合は nil を返す。
func (r *PostgresPostRepo) LatestScoreUpdate(ctx context.Context) (*time.Time, error) {
	var last sql.NullTime
	err := r.db.QueryRowContext(ctx, `SELECT max(score_updated_at) FROM posts`).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("最新スコア更新日時の取得に失敗しました: %w", err)
	}
	return nullTimePtr(last), nil
}

// nullTimePtr はsql.NullTimeを*time.Timeに変換する。
func nullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
