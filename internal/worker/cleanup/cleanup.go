// Package cleanup は期限切れデータの定期削除ジョブを提供する。
// 期限切れのセッションと、保持期間を超過した監査ログを削除する。
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// 削除対象の名前。メトリクスのラベルにも使う。
const (
	TargetSessions = "sessions"
	TargetAuditLog = "audit_log"
)

// SessionPurger は期限切れセッションを削除する。repository.SessionRepositoryが満たす。
type SessionPurger interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// AuditPurger は古い監査ログを削除する。audit.Serviceが満たす。
type AuditPurger interface {
	Purge(ctx context.Context, olderThan time.Duration) (int64, error)
}

// Recorder は削除件数を記録する。
type Recorder interface {
	RecordCleanup(target string, deleted int64)
}

// CleanupJob は期限切れデータの削除ジョブ。
// 冪等で、削除対象がない場合もエラーにならない。
type CleanupJob struct {
	sessions SessionPurger
	audit    AuditPurger
	recorder Recorder
	logger   *slog.Logger

	// AuditRetention は監査ログの保持期間。0以下なら監査ログは削除しない。
	AuditRetention time.Duration
}

// NewCleanupJob は新しいCleanupJobを生成する。
// デフォルトの監査ログ保持期間は90日。recorderはnilでもよい。
func NewCleanupJob(sessions SessionPurger, audit AuditPurger, recorder Recorder, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		sessions:       sessions,
		audit:          audit,
		recorder:       recorder,
		logger:         logger,
		AuditRetention: 90 * 24 * time.Hour,
	}
}

// Run はセッションと監査ログの削除を1回実行する。
// 一方が失敗しても他方は実行し、エラーはまとめて返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	var errs []error
	if err := j.purge(ctx, TargetSessions, j.sessions.DeleteExpired); err != nil {
		errs = append(errs, err)
	}

	if j.AuditRetention > 0 {
		purgeAudit := func(ctx context.Context) (int64, error) {
			return j.audit.Purge(ctx, j.AuditRetention)
		}
		if err := j.purge(ctx, TargetAuditLog, purgeAudit); err != nil {
			errs = append(errs, err)
		}
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int("error_count", len(errs)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return errors.Join(errs...)
}

func (j *CleanupJob) purge(ctx context.Context, target string, fn func(context.Context) (int64, error)) error {
	deleted, err := fn(ctx)
	if err != nil {
		j.logger.Error("クリーンアップの実行に失敗しました",
			slog.String("target", target),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%sのクリーンアップに失敗: %w", target, err)
	}

	if j.recorder != nil {
		j.recorder.RecordCleanup(target, deleted)
	}
	j.logger.Info("クリーンアップを実行しました",
		slog.String("target", target),
		slog.Int64("deleted_count", deleted),
	)
	return nil
}

// Start は起動直後に1回実行し、その後intervalごとに実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("クリーンアップワーカーを開始しました",
		slog.Duration("interval", interval),
		slog.Duration("audit_retention", j.AuditRetention),
	)

	// 失敗はRun内でログ済み
	_ = j.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("クリーンアップワーカーを停止しました")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
