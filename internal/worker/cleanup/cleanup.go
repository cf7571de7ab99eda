// Package cleanup はフェッチログの自動削除ジョブを提供する。
// 保持期間（デフォルト30日）を超過したフェッチログを日次バッチで削除する。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultRetentionDays はフェッチログの既定の保持日数。
const DefaultRetentionDays = 30

// LogPruner は開始日時がcutoffより前のフェッチログを削除する。
// repository.FetchLogRepositoryが満たす。
type LogPruner interface {
	DeleteStartedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CleanupJob は保持期間を超過したフェッチログの削除ジョブ。
// 削除対象がなくてもエラーにならない。
type CleanupJob struct {
	logs          LogPruner
	logger        *slog.Logger
	RetentionDays int
	now           func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。retentionDaysが0以下の場合は30日。
func NewCleanupJob(logs LogPruner, retentionDays int, logger *slog.Logger) *CleanupJob {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &CleanupJob{
		logs:          logs,
		logger:        logger,
		RetentionDays: retentionDays,
		now:           time.Now,
	}
}

// Start は起動直後と以後24時間ごとにRunを実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *CleanupJob) Start(ctx context.Context) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	j.runAndLog(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.runAndLog(ctx)
		}
	}
}

func (j *CleanupJob) runAndLog(ctx context.Context) {
	if _, err := j.Run(ctx); err != nil {
		j.logger.Error("フェッチログのクリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
	}
}

// Run はRetentionDays日より前に開始されたフェッチログを削除し、削除件数を返す。
func (j *CleanupJob) Run(ctx context.Context) (int64, error) {
	start := j.now()
	cutoff := start.UTC().AddDate(0, 0, -j.RetentionDays)

	deleted, err := j.logs.DeleteStartedBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("フェッチログのクリーンアップに失敗: %w", err)
	}

	j.logger.Info("フェッチログのクリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deleted),
		slog.Int("retention_days", j.RetentionDays),
		slog.Time("cutoff", cutoff),
		slog.Float64("duration_ms", float64(j.now().Sub(start).Milliseconds())),
	)
	return deleted, nil
}
