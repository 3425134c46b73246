// Package model はドメインモデルを定義する。
package model

import "time"

// PostStatus は投稿の公開状態を表す。
type PostStatus string

const (
	// PostStatusPublished は公開済みの投稿。スコア計算の対象となる唯一の状態。
	PostStatusPublished PostStatus = "published"
	// PostStatusDraft は下書き状態の投稿。
	PostStatusDraft PostStatus = "draft"
	// PostStatusHidden は管理者により非表示にされた投稿。
	PostStatusHidden PostStatus = "hidden"
	// PostStatusDeleted は削除済みの投稿。
	PostStatusDeleted PostStatus = "deleted"
)

// Post はキャンパスウォールの投稿を表す。
// recommend_score / auto_recommended / score_updated_at はバッチ再計算のみが書き込む。
// is_recommended は管理者が設定するフラグで、バッチ処理からは変更しない。
type Post struct {
	ID              string
	AuthorID        string
	Status          PostStatus
	Content         string
	LikeCount       int
	CommentCount    int
	FavoriteCount   int
	ViewCount       int
	Images          []PostImage
	Topics          []Topic
	RecommendScore  float64
	AutoRecommended bool
	IsRecommended   bool
	RecommendedAt   *time.Time
	ScoreUpdatedAt  *time.Time
	CreatedAt       *time.Time
	UpdatedAt       time.Time
}

// PostImage は投稿に添付された画像を表す。
type PostImage struct {
	ID        string
	URL       string
	SortOrder int
}

// Topic は投稿に紐づくトピック（ハッシュタグ）を表す。
type Topic struct {
	ID   string
	Name string
}

// PostFacts はスコア計算に必要な投稿の事実データ。
// リポジトリ層で画像数・本文長・トピック数を集計済みの状態で返される。
// CreatedAt はDB上でNULLの可能性があるためポインタで保持する。
type PostFacts struct {
	ID            string
	AuthorID      string
	Status        PostStatus
	LikeCount     int
	CommentCount  int
	FavoriteCount int
	ViewCount     int
	ImageCount    int
	ContentLength int
	TopicCount    int
	CreatedAt     *time.Time
}

// Interactions はいいね・コメント・お気に入りの合計を返す。閲覧数は含まない。
func (f PostFacts) Interactions() int {
	return f.LikeCount + f.CommentCount + f.FavoriteCount
}

// Candidate はおすすめ一覧の候補となる投稿の軽量表現。
// 本文や画像を含まず、並び替えと多様性制約に必要な項目のみを持つ。
type Candidate struct {
	ID             string
	AuthorID       string
	Score          float64
	Interactions   int
	Pinned         bool
	RecommendedAt  *time.Time
	ScoreUpdatedAt *time.Time
}

// ScoreFields はバッチ再計算で書き戻すスコア関連カラム。
type ScoreFields struct {
	RecommendScore  float64
	AutoRecommended bool
	ScoreUpdatedAt  time.Time
}

// ScoreStats はスコアの鮮度表示用の集計値。
type ScoreStats struct {
	PublishedCount        int
	AutoRecommendedCount  int
	AdminRecommendedCount int
	LastScoreUpdatedAt    *time.Time
}
