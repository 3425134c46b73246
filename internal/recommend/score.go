package recommend

import (
	"math"
	"time"

	"github.com/hitoshi/wallrank/internal/model"
)

const (
	// contentBonusMinLength を超える文字数の本文に contentBonus を付与する。
	contentBonusMinLength = 100
	// newPostWindow 未満の経過時間の投稿を新着として扱う。
	newPostWindow = 24 * time.Hour
)

// EngagementFacts はスコア計算の入力。全フィールドが非負の値で埋まった状態で渡す。
type EngagementFacts struct {
	LikeCount     int
	CommentCount  int
	FavoriteCount int
	ViewCount     int
	HasImages     bool
	ContentLength int
	TopicCount    int
	CreatedAt     time.Time
}

// FactsFromPost は永続化層の集計値を計算入力に変換する。
// created_at が NULL の場合は ok = false を返し、呼び出し側でスキップする。
// 負の集計値は0に丸める。
func FactsFromPost(p model.PostFacts) (EngagementFacts, bool) {
	if p.CreatedAt == nil || p.CreatedAt.IsZero() {
		return EngagementFacts{}, false
	}
	return EngagementFacts{
		LikeCount:     nonNegative(p.LikeCount),
		CommentCount:  nonNegative(p.CommentCount),
		FavoriteCount: nonNegative(p.FavoriteCount),
		ViewCount:     nonNegative(p.ViewCount),
		HasImages:     p.ImageCount > 0,
		ContentLength: nonNegative(p.ContentLength),
		TopicCount:    nonNegative(p.TopicCount),
		CreatedAt:     *p.CreatedAt,
	}, true
}

// Interactions はいいね・コメント・お気に入りの合計を返す。
func (f EngagementFacts) Interactions() int {
	return f.LikeCount + f.CommentCount + f.FavoriteCount
}

// ScoreSnapshot はスコア計算の内訳。永続化はせず、デバッグ表示とテストに使う。
type ScoreSnapshot struct {
	BaseScore    float64 `json:"baseScore"`
	AgeDays      float64 `json:"ageDays"`
	TimeFactor   float64 `json:"timeFactor"`
	NewPostBonus float64 `json:"newPostBonus"`
	QualityBonus float64 `json:"qualityBonus"`
	Score        float64 `json:"score"`
}

// DisplayScore は表示用に小数第2位で丸めたスコアを返す。永続化には Score をそのまま使う。
func (s ScoreSnapshot) DisplayScore() float64 {
	return math.Round(s.Score*100) / 100
}

// ComputeScore は1投稿のおすすめスコアを計算する。
//
//	score = base * exp(-age/timeDecayDays) + newPostBonus + qualityBonus
//
// 経過日数は小数のまま扱い、作成日時が未来の場合は0日とする。
// maxAgeDays による除外は呼び出し側の責務で、ここでは判定しない。
func ComputeScore(f EngagementFacts, s Settings, now time.Time) ScoreSnapshot {
	likes := nonNegative(f.LikeCount)
	comments := nonNegative(f.CommentCount)
	favorites := nonNegative(f.FavoriteCount)
	views := nonNegative(f.ViewCount)

	base := float64(likes)*s.LikeWeight +
		float64(comments)*s.CommentWeight +
		float64(favorites)*s.CollectionWeight +
		float64(views)*s.ViewWeight

	age := now.Sub(f.CreatedAt)
	if age < 0 {
		age = 0
	}
	ageDays := age.Hours() / 24

	factor := 0.0
	if s.TimeDecayDays > 0 {
		factor = math.Exp(-ageDays / s.TimeDecayDays)
	}

	var newPost float64
	if age < newPostWindow && likes+comments+favorites < s.MinInteractionScore {
		newPost = s.NewPostBonus
	}

	var quality float64
	if f.HasImages {
		quality += s.ImageBonus
	}
	if f.ContentLength > contentBonusMinLength {
		quality += s.ContentBonus
	}
	if f.TopicCount > 0 {
		quality += s.TopicBonus
	}

	return ScoreSnapshot{
		BaseScore:    base,
		AgeDays:      ageDays,
		TimeFactor:   factor,
		NewPostBonus: newPost,
		QualityBonus: quality,
		Score:        base*factor + newPost + quality,
	}
}

// IsWithinAgeWindow は投稿が maxAgeDays 以内に作成されたかを判定する。
// 日数が大きくても time.Duration があふれないよう暦日で境界を求める。
func IsWithinAgeWindow(createdAt time.Time, maxAgeDays int, now time.Time) bool {
	return !createdAt.Before(now.AddDate(0, 0, -maxAgeDays))
}

func nonNegative(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
