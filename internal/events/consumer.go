package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/hitoshi/wallrank/internal/recommend"
)

// Rescorer は1投稿の再計算インターフェース。recommend.Recalculator が実装する。
type Rescorer interface {
	RecomputeOne(ctx context.Context, postID string) (recommend.ScoreSnapshot, error)
}

// Invalidator はおすすめ一覧キャッシュの無効化インターフェース。recommend.ListCache が実装する。
type Invalidator interface {
	InvalidateAll(ctx context.Context)
}

// EventRecorder はイベント処理結果のメトリクス記録インターフェース。
type EventRecorder interface {
	RecordEventHandled(kind, result string)
}

// Consumer は投稿変更イベントを購読し、該当投稿のスコア再計算と一覧キャッシュの無効化を行う。
// 処理に失敗したイベントも Ack し、次回の一括再計算で整合させる。
type Consumer struct {
	sub      message.Subscriber
	rescorer Rescorer
	cache    Invalidator
	logger   *slog.Logger
	metrics  EventRecorder
}

// NewConsumer はConsumerを生成する。metrics は nil でもよい。
func NewConsumer(sub message.Subscriber, rescorer Rescorer, cache Invalidator, logger *slog.Logger, metrics EventRecorder) *Consumer {
	return &Consumer{
		sub:      sub,
		rescorer: rescorer,
		cache:    cache,
		logger:   logger,
		metrics:  metrics,
	}
}

// Serve は suture.Service を実装する。コンテキストがキャンセルされるまでイベントを処理する。
func (c *Consumer) Serve(ctx context.Context) error {
	msgs, err := c.sub.Subscribe(ctx, TopicPostChanged)
	if err != nil {
		return fmt.Errorf("投稿変更イベントの購読に失敗しました: %w", err)
	}
	c.logger.Info("投稿変更イベントの購読を開始しました")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				// バスが閉じられた場合は監視ツリーに再起動を任せる
				return errors.New("投稿変更イベントの購読チャネルが閉じられました")
			}
			c.handleMessage(ctx, msg)
			msg.Ack()
		}
	}
}

func (c *Consumer) handleMessage(ctx context.Context, msg *message.Message) {
	e, err := Decode(msg.Payload)
	if err != nil {
		c.record("unknown", "invalid")
		c.logger.Warn("不正な投稿変更イベントを破棄しました",
			slog.String("message_id", msg.UUID),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := c.Handle(ctx, e); err != nil {
		c.record(string(e.Kind), "error")
		c.logger.Error("投稿変更イベントの処理に失敗しました",
			slog.String("post_id", e.PostID),
			slog.String("kind", string(e.Kind)),
			slog.String("error", err.Error()),
		)
		return
	}
	c.record(string(e.Kind), "ok")
}

// Handle は1件のイベントを処理する。
// 削除は一覧キャッシュの無効化のみ、それ以外は投稿を再計算する（再計算側でキャッシュも無効化される）。
// 対象外・存在しない投稿は正常として扱う。
func (c *Consumer) Handle(ctx context.Context, e PostChanged) error {
	if e.Kind == KindDeleted {
		c.cache.InvalidateAll(ctx)
		return nil
	}

	_, err := c.rescorer.RecomputeOne(ctx, e.PostID)
	switch {
	case err == nil, errors.Is(err, recommend.ErrPostNotEligible):
		return nil
	case errors.Is(err, recommend.ErrPostNotFound):
		c.cache.InvalidateAll(ctx)
		return nil
	default:
		c.cache.InvalidateAll(ctx)
		return err
	}
}

func (c *Consumer) record(kind, result string) {
	if c.metrics != nil {
		c.metrics.RecordEventHandled(kind, result)
	}
}

func (c *Consumer) String() string {
	return "post-event-consumer"
}
