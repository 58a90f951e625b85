package app

import (
	"fmt"
	"strconv"
	"strings"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーを起動する。引数なしの場合のデフォルト。
	CommandServe Command = "serve"
	// CommandWorker は決済照合とクリーンアップのワーカーを起動する。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はdistrolessコンテナ内から/healthを確認する。
	CommandHealthcheck Command = "healthcheck"
	// CommandGrant はサポート対応として指定ユーザーにクレジットを手動付与する。
	CommandGrant Command = "grant"
)

// Commands はサポートするサブコマンドの一覧。
var Commands = []Command{CommandServe, CommandWorker, CommandMigrate, CommandHealthcheck, CommandGrant}

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空の場合はCommandServeを返す。サポート外のコマンドはエラーにする。
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 {
		return CommandServe, nil
	}

	name := Command(strings.ToLower(strings.TrimSpace(args[0])))
	for _, c := range Commands {
		if name == c {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown command %q (available: %s)", args[0], commandList())
}

// GrantArgs はgrantサブコマンドの引数。
type GrantArgs struct {
	UserID  string
	Credits int
}

// ParseGrantArgs は `grant <user-id> <credits>` の引数を解析する。
func ParseGrantArgs(args []string) (GrantArgs, error) {
	if len(args) != 2 {
		return GrantArgs{}, fmt.Errorf("usage: covercraft grant <user-id> <credits>")
	}

	userID := strings.TrimSpace(args[0])
	if userID == "" {
		return GrantArgs{}, fmt.Errorf("user id is required")
	}
	credits, err := strconv.Atoi(args[1])
	if err != nil || credits <= 0 {
		return GrantArgs{}, fmt.Errorf("credits must be a positive integer, got %q", args[1])
	}
	return GrantArgs{UserID: userID, Credits: credits}, nil
}

func commandList() string {
	names := make([]string, len(Commands))
	for i, c := range Commands {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}
