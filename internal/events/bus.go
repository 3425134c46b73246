package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
)

// Bus はwatermillのGoChannelによるプロセス内イベントバス。
// 購読者がいない間に発行されたイベントは保持しない。
type Bus struct {
	pubsub *gochannel.GoChannel
	now    func() time.Time
}

// NewBus はBusを生成する。
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 256,
		}, watermill.NewSlogLogger(logger)),
		now: time.Now,
	}
}

// Publish はイベントを検証して発行する。OccurredAt が未設定の場合は現在時刻を入れる。
func (b *Bus) Publish(ctx context.Context, e PostChanged) error {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = b.now()
	}
	if err := e.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("イベントのエンコードに失敗しました: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("kind", string(e.Kind))
	msg.SetContext(ctx)
	if err := b.pubsub.Publish(TopicPostChanged, msg); err != nil {
		return fmt.Errorf("イベントの発行に失敗しました: %w", err)
	}
	return nil
}

// Subscriber は購読側のインターフェースを返す。
func (b *Bus) Subscriber() message.Subscriber {
	return b.pubsub
}

// Close はバスを閉じ、全ての購読チャネルを閉じる。
func (b *Bus) Close() error {
	return b.pubsub.Close()
}
