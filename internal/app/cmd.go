package app

import "fmt"

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動する。
	CommandServe Command = "serve"
	// CommandWorker は定期クリーンアップのワーカーモードで起動する。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行する。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// Usage はサブコマンドの一覧。
const Usage = `usage: shipkit [serve|worker|migrate|healthcheck]

  serve        HTTPサーバーを起動する（既定）
  worker       期限切れセッションと古い監査ログを定期削除する
  migrate      未適用のマイグレーションを適用する
  healthcheck  ローカルの /health を確認する`

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空の場合はCommandServeを返し、未知のコマンドはエラーにする。
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 {
		return CommandServe, nil
	}

	switch cmd := Command(args[0]); cmd {
	case CommandServe, CommandWorker, CommandMigrate, CommandHealthcheck:
		return cmd, nil
	default:
		return "", fmt.Errorf("unknown command %q\n%s", args[0], Usage)
	}
}
