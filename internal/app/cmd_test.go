package app

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hitoshi/covercraft/internal/model"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want Command
	}{
		{"no args defaults to serve", []string{}, CommandServe},
		{"serve", []string{"serve"}, CommandServe},
		{"worker", []string{"worker"}, CommandWorker},
		{"migrate", []string{"migrate"}, CommandMigrate},
		{"healthcheck", []string{"healthcheck"}, CommandHealthcheck},
		{"grant keeps its own args", []string{"grant", "user-1", "10"}, CommandGrant},
		{"case insensitive", []string{"Worker"}, CommandWorker},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCommand(tt.args)
			if err != nil {
				t.Fatalf("ParseCommand(%v) error = %v", tt.args, err)
			}
			if got != tt.want {
				t.Errorf("ParseCommand(%v) = %q, want %q", tt.args, got, tt.want)
			}
		})
	}
}

// 未知のサブコマンドはserveとして起動せずエラーになることを検証
func TestParseCommand_UnknownIsRejected(t *testing.T) {
	for _, args := range [][]string{{"unknown"}, {"serv"}, {"--help"}} {
		cmd, err := ParseCommand(args)
		if err == nil {
			t.Errorf("ParseCommand(%v) = %q, want error", args, cmd)
			continue
		}
		// 利用可能なコマンドが案内されること
		if !strings.Contains(err.Error(), "grant") || !strings.Contains(err.Error(), "worker") {
			t.Errorf("error should list available commands: %v", err)
		}
	}
}

func TestParseGrantArgs(t *testing.T) {
	got, err := ParseGrantArgs([]string{" user-1 ", "25"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.UserID != "user-1" || got.Credits != 25 {
		t.Errorf("ParseGrantArgs = %+v, want {user-1 25}", got)
	}
}

func TestParseGrantArgs_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing credits", []string{"user-1"}},
		{"too many args", []string{"user-1", "5", "extra"}},
		{"empty user", []string{" ", "5"}},
		{"zero credits", []string{"user-1", "0"}},
		{"negative credits", []string{"user-1", "-5"}},
		{"non numeric", []string{"user-1", "ten"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseGrantArgs(tt.args); err == nil {
				t.Errorf("ParseGrantArgs(%v) should return error", tt.args)
			}
		})
	}
}

// 未知のコマンドは設定読み込みやDB接続の前にエラーを返すことを検証
func TestRun_UnknownCommand_ReturnsErrorBeforeInit(t *testing.T) {
	clearRequiredEnv(t)

	var buf bytes.Buffer
	err := Run(&buf, []string{"frobnicate"})
	if err == nil {
		t.Fatal("Run with unknown command should return error")
	}
	if !strings.Contains(err.Error(), "unknown command") {
		t.Errorf("error = %v, want unknown command", err)
	}
}

// grantの引数不正は設定読み込みとDB接続の前にエラーを返すことを検証
func TestRun_GrantWithInvalidArgs_ReturnsError(t *testing.T) {
	clearRequiredEnv(t)

	var buf bytes.Buffer
	err := Run(&buf, []string{"grant", "user-1"})
	if err == nil || !strings.Contains(err.Error(), "usage") {
		t.Fatalf("error = %v, want usage error", err)
	}
}

type mockCreditGranter struct {
	grantCreditsFn func(ctx context.Context, userID string, amount int) (model.Balance, error)
}

func (m *mockCreditGranter) GrantCredits(ctx context.Context, userID string, amount int) (model.Balance, error) {
	return m.grantCreditsFn(ctx, userID, amount)
}

func TestApplyGrant(t *testing.T) {
	var gotUser string
	var gotAmount int
	granter := &mockCreditGranter{
		grantCreditsFn: func(ctx context.Context, userID string, amount int) (model.Balance, error) {
			gotUser, gotAmount = userID, amount
			return model.Balance{Free: 15, Total: 2}, nil
		},
	}

	balance, err := applyGrant(context.Background(), granter, GrantArgs{UserID: "user-1", Credits: 10})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotUser != "user-1" || gotAmount != 10 {
		t.Errorf("GrantCredits(%q, %d), want (user-1, 10)", gotUser, gotAmount)
	}
	if balance.Free != 15 {
		t.Errorf("Free = %d, want 15", balance.Free)
	}
}

func TestApplyGrant_PropagatesError(t *testing.T) {
	granter := &mockCreditGranter{
		grantCreditsFn: func(ctx context.Context, userID string, amount int) (model.Balance, error) {
			return model.Balance{}, errors.New("db down")
		},
	}

	_, err := applyGrant(context.Background(), granter, GrantArgs{UserID: "user-1", Credits: 10})
	if err == nil || !strings.Contains(err.Error(), "db down") {
		t.Errorf("error = %v, want wrapped db down", err)
	}
}
