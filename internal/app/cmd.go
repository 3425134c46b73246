package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	// イベント購読・キャッシュGC・（有効な場合）定期再計算も同じプロセスで動かす。
	CommandServe Command = "serve"
	// CommandWorker はワーカーモードで起動することを示す。定期再計算のみを実行する。
	CommandWorker Command = "worker"
	// CommandRecompute は一括再計算を1回だけ実行して終了することを示す。
	CommandRecompute Command = "recompute"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch args[0] {
	case "worker":
		return CommandWorker
	case "serve":
		return CommandServe
	case "recompute":
		return CommandRecompute
	case "migrate":
		return CommandMigrate
	case "healthcheck":
		return CommandHealthcheck
	default:
		return CommandServe
	}
}
