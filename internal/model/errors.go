// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"net/http"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, recommend, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// HTTPStatus はエラーコードに対応するHTTPステータスコードを返す。未知のコードは500。
func (e *APIError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeInvalidRequest, ErrCodeInvalidPage, ErrCodeInvalidSettings, ErrCodeInvalidEventKind:
		return http.StatusBadRequest
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodePostNotFound:
		return http.StatusNotFound
	case ErrCodePostNotEligible:
		return http.StatusConflict
	case ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case ErrCodeAdminDisabled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// 定義済みエラーコード
const (
	ErrCodeInvalidRequest   = "INVALID_REQUEST"
	ErrCodeInvalidPage      = "INVALID_PAGE"
	ErrCodeInvalidSettings  = "INVALID_SETTINGS"
	ErrCodePostNotFound     = "POST_NOT_FOUND"
	ErrCodePostNotEligible  = "POST_NOT_ELIGIBLE"
	ErrCodeUnauthorized     = "UNAUTHORIZED"
	ErrCodeAdminDisabled    = "ADMIN_DISABLED"
	ErrCodeInvalidEventKind = "INVALID_EVENT_KIND"
	ErrCodeRateLimited      = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal         = "INTERNAL_ERROR"
)

// NewInvalidPageError はページ指定が不正な場合のエラーを生成する。
func NewInvalidPageError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPage,
		Message:  fmt.Sprintf("ページ指定が不正です: %s", reason),
		Category: "validation",
		Action:   "page は1以上、page_size は1から50の範囲で指定してください。",
	}
}

// NewInvalidSettingsError はおすすめ設定の値が不正な場合のエラーを生成する。
func NewInvalidSettingsError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSettings,
		Message:  fmt.Sprintf("おすすめ設定が不正です: %s", reason),
		Category: "validation",
		Action:   "各設定値の範囲を確認してください。",
	}
}

// NewPostNotFoundError は投稿未検出エラーを生成する。
func NewPostNotFoundError(postID string) *APIError {
	return &APIError{
		Code:     ErrCodePostNotFound,
		Message:  fmt.Sprintf("指定された投稿が見つかりません: %s", postID),
		Category: "recommend",
		Action:   "投稿IDを確認してください。",
	}
}

// NewPostNotEligibleError はスコア計算対象外の投稿に対するエラーを生成する。
func NewPostNotEligibleError(postID string) *APIError {
	return &APIError{
		Code:     ErrCodePostNotEligible,
		Message:  fmt.Sprintf("投稿はスコア計算の対象外です（非公開または公開期間外）: %s", postID),
		Category: "recommend",
		Action:   "公開中かつ対象期間内の投稿のみ再計算できます。",
	}
}

// NewUnauthorizedError は管理者認証に失敗した場合のエラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "管理者トークンを Authorization ヘッダーに指定してください。",
	}
}

// NewAdminDisabledError は管理者トークン未設定で管理APIが無効な場合のエラーを生成する。
func NewAdminDisabledError() *APIError {
	return &APIError{
		Code:     ErrCodeAdminDisabled,
		Message:  "管理APIは無効化されています。",
		Category: "auth",
		Action:   "ADMIN_TOKEN を設定してサーバーを再起動してください。",
	}
}

// NewInvalidEventKindError は未知の投稿イベント種別を受け取った場合のエラーを生成する。
func NewInvalidEventKindError(kind string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidEventKind,
		Message:  fmt.Sprintf("無効なイベント種別です: %s", kind),
		Category: "validation",
		Action:   "kind には created、updated、engagement、deleted のいずれかを指定してください。",
	}
}

// NewRateLimitedError はレート制限超過時のエラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-After ヘッダーの秒数だけ待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
