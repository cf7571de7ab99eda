package app

// Command はmpheatのサブコマンドを表す。
type Command string

const (
	// CommandServe はJSON APIサーバーを起動する。
	CommandServe Command = "serve"
	// CommandWorker はクロールスケジューラ、拡散シグナル取得、ログ削除を起動する。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを適用する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はserveの/healthを叩いて終了する。
	// distrolessイメージのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
	// CommandCrawlOnce はアカウント一覧を1回だけクロールし、結果をJSONで出力して終了する。
	CommandCrawlOnce Command = "crawl-once"
)

var knownCommands = map[string]Command{
	string(CommandServe):       CommandServe,
	string(CommandWorker):      CommandWorker,
	string(CommandMigrate):     CommandMigrate,
	string(CommandHealthcheck): CommandHealthcheck,
	string(CommandCrawlOnce):   CommandCrawlOnce,
}

// ParseCommand はコマンドライン引数の先頭からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	if cmd, ok := knownCommands[args[0]]; ok {
		return cmd
	}
	return CommandServe
}

// NeedsInit は設定の読み込みとDB接続が必要なコマンドかどうかを返す。
func (c Command) NeedsInit() bool {
	return c != CommandHealthcheck
}
