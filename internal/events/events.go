// Package events は投稿の変更通知をプロセス内で配送し、おすすめスコアとキャッシュに反映する。
package events

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

// TopicPostChanged は投稿変更イベントのトピック名。
const TopicPostChanged = "post.changed"

// Kind は投稿変更の種別。
type Kind string

const (
	// KindCreated は投稿の新規作成。
	KindCreated Kind = "created"
	// KindUpdated は本文・画像・トピック・公開状態の変更。
	KindUpdated Kind = "updated"
	// KindEngagement はいいね・コメント・お気に入り・閲覧数の変化。
	KindEngagement Kind = "engagement"
	// KindDeleted は投稿の削除。
	KindDeleted Kind = "deleted"
)

// Valid は既知の種別かを返す。
func (k Kind) Valid() bool {
	switch k {
	case KindCreated, KindUpdated, KindEngagement, KindDeleted:
		return true
	}
	return false
}

// ErrInvalidEvent はイベントの形式が不正な場合に返される。
var ErrInvalidEvent = errors.New("invalid post event")

// PostChanged は投稿の変更通知。投稿本体を管理する外部サービスから受け取る。
type PostChanged struct {
	PostID     string    `json:"postId" validate:"required,uuid"`
	Kind       Kind      `json:"kind" validate:"required,oneof=created updated engagement deleted"`
	OccurredAt time.Time `json:"occurredAt"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate はイベントの必須項目と種別を検証する。
func (e PostChanged) Validate() error {
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return nil
}

// Decode はメッセージのペイロードをイベントに変換して検証する。
func Decode(payload []byte) (PostChanged, error) {
	var e PostChanged
	if err := json.Unmarshal(payload, &e); err != nil {
		return PostChanged{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if err := e.Validate(); err != nil {
		return PostChanged{}, err
	}
	return e, nil
}
