// Package recommend は投稿のおすすめスコア計算・一括再計算・おすすめ一覧の選出を提供する。
package recommend

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
)

// 設定キー。recommendation_settings テーブルの key カラムと一致する。
const (
	KeyLikeWeight          = "likeWeight"
	KeyCommentWeight       = "commentWeight"
	KeyCollectionWeight    = "collectionWeight"
	KeyViewWeight          = "viewWeight"
	KeyTimeDecayDays       = "timeDecayDays"
	KeyMaxAgeDays          = "maxAgeDays"
	KeyScoreThreshold      = "scoreThreshold"
	KeyMaxAdminRecommended = "maxAdminRecommended"
	KeyNewPostBonus        = "newPostBonus"
	KeyImageBonus          = "imageBonus"
	KeyContentBonus        = "contentBonus"
	KeyTopicBonus          = "topicBonus"
	KeyMinInteractionScore = "minInteractionScore"
	KeyMinInteractionFloor = "minInteractionFloor"
	KeyMaxSameAuthorRatio  = "maxSameAuthorRatio"
	KeyCacheExpireMinutes  = "cacheExpireMinutes"
	KeyUpdateIntervalHours = "updateIntervalHours"
)

// SettingKeys は永続化される全設定キーの一覧。
var SettingKeys = []string{
	KeyLikeWeight,
	KeyCommentWeight,
	KeyCollectionWeight,
	KeyViewWeight,
	KeyTimeDecayDays,
	KeyMaxAgeDays,
	KeyScoreThreshold,
	KeyMaxAdminRecommended,
	KeyNewPostBonus,
	KeyImageBonus,
	KeyContentBonus,
	KeyTopicBonus,
	KeyMinInteractionScore,
	KeyMinInteractionFloor,
	KeyMaxSameAuthorRatio,
	KeyCacheExpireMinutes,
	KeyUpdateIntervalHours,
}

// ErrInvalidSettings は設定値が制約を満たさない場合に返される。
var ErrInvalidSettings = errors.New("invalid recommendation settings")

// Settings はおすすめアルゴリズムの設定スナップショット。
// キー/値形式で永続化された設定を1つの構造体に実体化したもの。
type Settings struct {
	LikeWeight       float64 `json:"likeWeight" validate:"gte=0"`
	CommentWeight    float64 `json:"commentWeight" validate:"gte=0"`
	CollectionWeight float64 `json:"collectionWeight" validate:"gte=0"`
	ViewWeight       float64 `json:"viewWeight" validate:"gte=0"`

	// TimeDecayDays は指数減衰 exp(-age/TimeDecayDays) の時定数（日）。
	TimeDecayDays float64 `json:"timeDecayDays" validate:"gt=0"`
	// MaxAgeDays を超えた投稿はスコア計算の対象から除外される。
	MaxAgeDays int `json:"maxAgeDays" validate:"gt=0,lte=36500"`

	ScoreThreshold      float64 `json:"scoreThreshold"`
	MaxAdminRecommended int     `json:"maxAdminRecommended" validate:"gte=0"`

	NewPostBonus float64 `json:"newPostBonus" validate:"gte=0"`
	ImageBonus   float64 `json:"imageBonus" validate:"gte=0"`
	ContentBonus float64 `json:"contentBonus" validate:"gte=0"`
	TopicBonus   float64 `json:"topicBonus" validate:"gte=0"`

	// MinInteractionScore は新着ボーナスの「反応が少ない」判定のしきい値。
	// いいね+コメント+お気に入りがこの値未満なら新着ボーナスを付与する。
	MinInteractionScore int `json:"minInteractionScore" validate:"gte=0"`
	// MinInteractionFloor はおすすめ一覧のアルゴリズム枠に載せる最低反応数。0で無効。
	MinInteractionFloor int `json:"minInteractionFloor" validate:"gte=0"`

	MaxSameAuthorRatio float64 `json:"maxSameAuthorRatio" validate:"gte=0,lte=1"`

	CacheExpireMinutes  int     `json:"cacheExpireMinutes" validate:"gte=0,lte=525600"`
	UpdateIntervalHours float64 `json:"updateIntervalHours" validate:"gt=0,lte=8760"`
}

// DefaultSettings はシード値と同じデフォルト設定を返す。
// 設定リポジトリに値が存在しないキー、または読み込み失敗時に使用する。
func DefaultSettings() Settings {
	return Settings{
		LikeWeight:          2,
		CommentWeight:       3,
		CollectionWeight:    4,
		ViewWeight:          0.5,
		TimeDecayDays:       10,
		MaxAgeDays:          30,
		ScoreThreshold:      15,
		MaxAdminRecommended: 5,
		NewPostBonus:        5,
		ImageBonus:          2,
		ContentBonus:        1,
		TopicBonus:          1,
		MinInteractionScore: 3,
		MinInteractionFloor: 0,
		MaxSameAuthorRatio:  0.3,
		CacheExpireMinutes:  10,
		UpdateIntervalHours: 1,
	}
}

// ListCacheTTL はおすすめ一覧キャッシュのTTLを返す。
func (s Settings) ListCacheTTL() time.Duration {
	return time.Duration(s.CacheExpireMinutes) * time.Minute
}

// UpdateInterval は一括再計算の実行間隔を返す。
func (s Settings) UpdateInterval() time.Duration {
	return time.Duration(s.UpdateIntervalHours * float64(time.Hour))
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func settingsValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate は各設定値が許容範囲内かを検証する。
func (s Settings) Validate() error {
	if err := settingsValidator().Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s は %s=%s を満たす必要があります", fe.Field(), fe.Tag(), fe.Param()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidSettings, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	return nil
}

// ParseSettings はキー/値マップを設定スナップショットに変換する。
// 存在しないキーはデフォルト値を使う。数値として解釈できない値もデフォルト値にフォールバックし、
// そのキー名を invalid として返す。
func ParseSettings(values map[string]string) (Settings, []string) {
	s := DefaultSettings()
	var invalid []string

	floatField := func(key string, dst *float64) {
		raw, ok := values[key]
		if !ok {
			return
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			invalid = append(invalid, key)
			return
		}
		*dst = v
	}
	intField := func(key string, dst *int) {
		raw, ok := values[key]
		if !ok {
			return
		}
		// "30.0" のように小数表記で保存されている値も受け付ける
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			invalid = append(invalid, key)
			return
		}
		*dst = int(v)
	}

	floatField(KeyLikeWeight, &s.LikeWeight)
	floatField(KeyCommentWeight, &s.CommentWeight)
	floatField(KeyCollectionWeight, &s.CollectionWeight)
	floatField(KeyViewWeight, &s.ViewWeight)
	floatField(KeyTimeDecayDays, &s.TimeDecayDays)
	intField(KeyMaxAgeDays, &s.MaxAgeDays)
	floatField(KeyScoreThreshold, &s.ScoreThreshold)
	intField(KeyMaxAdminRecommended, &s.MaxAdminRecommended)
	floatField(KeyNewPostBonus, &s.NewPostBonus)
	floatField(KeyImageBonus, &s.ImageBonus)
	floatField(KeyContentBonus, &s.ContentBonus)
	floatField(KeyTopicBonus, &s.TopicBonus)
	intField(KeyMinInteractionScore, &s.MinInteractionScore)
	intField(KeyMinInteractionFloor, &s.MinInteractionFloor)
	floatField(KeyMaxSameAuthorRatio, &s.MaxSameAuthorRatio)
	intField(KeyCacheExpireMinutes, &s.CacheExpireMinutes)
	floatField(KeyUpdateIntervalHours, &s.UpdateIntervalHours)

	return s, invalid
}

// ToMap は設定スナップショットを永続化用のキー/値マップに変換する。
func (s Settings) ToMap() map[string]string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return map[string]string{
		KeyLikeWeight:          f(s.LikeWeight),
		KeyCommentWeight:       f(s.CommentWeight),
		KeyCollectionWeight:    f(s.CollectionWeight),
		KeyViewWeight:          f(s.ViewWeight),
		KeyTimeDecayDays:       f(s.TimeDecayDays),
		KeyMaxAgeDays:          strconv.Itoa(s.MaxAgeDays),
		KeyScoreThreshold:      f(s.ScoreThreshold),
		KeyMaxAdminRecommended: strconv.Itoa(s.MaxAdminRecommended),
		KeyNewPostBonus:        f(s.NewPostBonus),
		KeyImageBonus:          f(s.ImageBonus),
		KeyContentBonus:        f(s.ContentBonus),
		KeyTopicBonus:          f(s.TopicBonus),
		KeyMinInteractionScore: strconv.Itoa(s.MinInteractionScore),
		KeyMinInteractionFloor: strconv.Itoa(s.MinInteractionFloor),
		KeyMaxSameAuthorRatio:  f(s.MaxSameAuthorRatio),
		KeyCacheExpireMinutes:  strconv.Itoa(s.CacheExpireMinutes),
		KeyUpdateIntervalHours: f(s.UpdateIntervalHours),
	}
}
