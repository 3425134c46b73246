// Package supervisor はバックグラウンド処理とHTTPサーバーをsutureの監視ツリーで管理する。
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// TreeConfig は監視ツリーの再起動ポリシー。
type TreeConfig struct {
	// FailureThreshold はバックオフに入るまでの失敗回数。デフォルト: 5
	FailureThreshold float64
	// FailureDecay は失敗回数が減衰する秒数。デフォルト: 30
	FailureDecay float64
	// FailureBackoff は閾値超過時の待機時間。デフォルト: 15s
	FailureBackoff time.Duration
	// ShutdownTimeout は各サービスの停止待ち時間。デフォルト: 10s
	ShutdownTimeout time.Duration
}

// Tree はwallrankの監視ツリー。
// worker層（再計算スケジューラ・イベント購読・キャッシュGC）とapi層（HTTPサーバー）を分け、
// worker層の障害がAPIの応答に波及しないようにする。
type Tree struct {
	root    *suture.Supervisor
	workers *suture.Supervisor
	api     *suture.Supervisor
}

// NewTree は監視ツリーを生成する。ゼロ値の設定項目にはデフォルト値を使う。
func NewTree(logger *slog.Logger, cfg TreeConfig) *Tree {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.FailureDecay == 0 {
		cfg.FailureDecay = 30
	}
	if cfg.FailureBackoff == 0 {
		cfg.FailureBackoff = 15 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	// MustHook はポインタレシーバのため &Handler{} から呼ぶ
	handler := &sutureslog.Handler{Logger: logger}

	spec := suture.Spec{
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}
	rootSpec := spec
	rootSpec.EventHook = handler.MustHook()

	root := suture.New("wallrank", rootSpec)
	workers := suture.New("worker-layer", spec)
	api := suture.New("api-layer", spec)
	root.Add(workers)
	root.Add(api)

	return &Tree{root: root, workers: workers, api: api}
}

// AddWorker はworker層にサービスを追加する。
func (t *Tree) AddWorker(svc suture.Service) suture.ServiceToken {
	return t.workers.Add(svc)
}

// AddAPI はapi層にサービスを追加する。
func (t *Tree) AddAPI(svc suture.Service) suture.ServiceToken {
	return t.api.Add(svc)
}

// Serve はコンテキストがキャンセルされるまで監視ツリーを実行する。
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

// ServeBackground は監視ツリーをバックグラウンドで起動し、終了時のエラーを返すチャネルを返す。
func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}
