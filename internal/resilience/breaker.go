// Package resilience は外部依存呼び出しを保護するサーキットブレーカーの共通設定を提供する。
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

// StateObserver はブレーカーの状態遷移を受け取るコールバック。メトリクス連携に使う。
type StateObserver func(name string, to gobreaker.State)

// BreakerSettings はブレーカー名ごとの共通設定を生成する。
// 計測窓内で5件以上のリクエストがあり失敗率が60%以上になると開き、30秒後に半開状態で再試行する。
func BreakerSettings(name string, logger *slog.Logger, observe StateObserver) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 5 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			level := slog.LevelInfo
			if to == gobreaker.StateOpen {
				level = slog.LevelWarn
			}
			logger.Log(context.Background(), level, "サーキットブレーカーの状態が変化しました",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
			if observe != nil {
				observe(name, to)
			}
		},
	}
}

// IsRejected はブレーカーが開いているためにリクエストが拒否されたかを判定する。
func IsRejected(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
