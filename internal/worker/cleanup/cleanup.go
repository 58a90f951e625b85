// Package cleanup は不要になったセッションと決済意図の自動削除ジョブを提供する。
// 期限切れのセッションと、保持期間（デフォルト30日）を超過した
// failed/expiredの決済意図をcron式のスケジュールで削除する。
// 確定済みの決済記録（payments）は削除しない。
package cleanup

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule はクリーンアップジョブのデフォルト実行スケジュール。
const DefaultSchedule = "@daily"

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

const (
	deleteExpiredSessionsQuery = `DELETE FROM sessions WHERE expires_at < now()`
	deleteClosedPendingQuery   = `DELETE FROM pending_payments
		WHERE status IN ('failed', 'expired') AND updated_at < now() - $1::interval`
)

// CleanupJob は期限切れデータの自動削除ジョブ。
// 冪等な削除処理のみを行うため、重複実行しても問題ない。
type CleanupJob struct {
	db            Executor
	logger        *slog.Logger
	RetentionDays int // failed/expiredの決済意図の保持日数（デフォルト: 30）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// デフォルトの保持日数は30日。
func NewCleanupJob(db Executor, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		db:            db,
		logger:        logger,
		RetentionDays: 30,
	}
}

// Run は期限切れセッションと保持期間を超過した決済意図を削除する。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	sessions, err := j.exec(ctx, "sessions", deleteExpiredSessionsQuery)
	if err != nil {
		return err
	}

	interval := fmt.Sprintf("%d days", j.RetentionDays)
	intents, err := j.exec(ctx, "pending_payments", deleteClosedPendingQuery, interval)
	if err != nil {
		return err
	}

	duration := time.Since(start)
	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_sessions", sessions),
		slog.Int64("deleted_pending_payments", intents),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}

func (j *CleanupJob) exec(ctx context.Context, table, query string, args ...interface{}) (int64, error) {
	result, err := j.db.ExecContext(ctx, query, args...)
	if err != nil {
		j.logger.Error("クリーンアップジョブの実行に失敗しました",
			slog.String("table", table),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("%sのクリーンアップに失敗: %w", table, err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		j.logger.Error("削除件数の取得に失敗しました",
			slog.String("table", table),
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("削除件数の取得に失敗: %w", err)
	}
	return deleted, nil
}

// Start は起動直後に1回Runを実行し、以降はscheduleに従って実行する。
// scheduleが空の場合はDefaultScheduleを使用する。
// コンテキストがキャンセルされると実行中のジョブの終了を待って戻る。
func (j *CleanupJob) Start(ctx context.Context, schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, func() { j.runLogged(ctx) }); err != nil {
		return fmt.Errorf("クリーンアップスケジュールが不正です: %w", err)
	}

	j.runLogged(ctx)

	c.Start()
	j.logger.Info("クリーンアップジョブを開始しました", slog.String("schedule", schedule))

	<-ctx.Done()
	<-c.Stop().Done()
	j.logger.Info("クリーンアップジョブを停止しました")
	return nil
}

func (j *CleanupJob) runLogged(ctx context.Context) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("cleanup job failed", slog.String("error", err.Error()))
	}
}
