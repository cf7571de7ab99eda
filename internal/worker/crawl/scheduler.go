// Package crawl は公式アカウントのバックグラウンドクロールを提供する。
// スケジューラ、アカウント単位のフェッチパイプライン、HTTPフェッチャーを含む。
//
// スケジューラはアカウントを1件ずつ順に処理し、アカウント間ではペーシングの遅延だけ待機する。
// 同時に実行されるクロールはアドバイザリロックで1つに制限する。
package crawl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/hitoshi/mpheat/internal/metrics"
	"github.com/hitoshi/mpheat/internal/model"
	"github.com/hitoshi/mpheat/internal/pacing"
	"github.com/hitoshi/mpheat/internal/repository"
)

// 実行しなかった場合の理由。
const (
	ReasonReadOnly      = "read_only_mode"
	ReasonRunInProgress = "run_in_progress"
	ReasonDailyQuota    = "daily_quota_reached"
)

// AccountRunner はアカウント1件をクロールする。Pipelineが満たす。
type AccountRunner interface {
	Run(ctx context.Context, account *model.Account) (*AccountResult, error)
}

// CrawlPacer はスケジューラが使うペーシング操作。pacing.Pacerが満たす。
type CrawlPacer interface {
	Restore(ctx context.Context) model.CrawlerState
	Limits(ctx context.Context) pacing.Limits
	NextDelay(ctx context.Context) time.Duration
	OnResponse(ctx context.Context, status int) model.CrawlerState
	CheckDailyQuota(ctx context.Context, dailyLimit int) bool
}

// RunResult はクロール1回分の結果。
type RunResult struct {
	Success           bool   `json:"success"`
	Reason            string `json:"reason,omitempty"`
	AccountsProcessed int    `json:"accounts_processed"`
	Errors            int    `json:"errors"`
	Total             int    `json:"total"`
	ArticlesInserted  int    `json:"articles_inserted"`
	ArticlesUpdated   int    `json:"articles_updated"`
}

// RefreshResult は手動リフレッシュの結果。
type RefreshResult struct {
	Success     bool   `json:"success"`
	Reason      string `json:"reason,omitempty"`
	AccountID   string `json:"account_id"`
	AccountName string `json:"account_name,omitempty"`
	HTTPStatus  int    `json:"http_status,omitempty"`
	Inserted    int    `json:"inserted"`
	Updated     int    `json:"updated"`
	Failed      int    `json:"failed"`
	Message     string `json:"message,omitempty"`
}

// Scheduler はアクティブなアカウントを順にクロールする。
type Scheduler struct {
	accountRepo  repository.AccountRepository
	fetchLogRepo repository.FetchLogRepository
	locker       repository.RunLocker
	pacer        CrawlPacer
	runner       AccountRunner
	metrics      metrics.MetricsCollector
	logger       *slog.Logger
	readOnly     bool
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
func NewScheduler(
	accountRepo repository.AccountRepository,
	fetchLogRepo repository.FetchLogRepository,
	locker repository.RunLocker,
	pacer CrawlPacer,
	runner AccountRunner,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	readOnly bool,
) *Scheduler {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Scheduler{
		accountRepo:  accountRepo,
		fetchLogRepo: fetchLogRepo,
		locker:       locker,
		pacer:        pacer,
		runner:       runner,
		metrics:      collector,
		logger:       logger,
		readOnly:     readOnly,
		now:          time.Now,
		sleep:        sleepContext,
	}
}

// Start はinterval間隔のティッカーでスケジューラを起動する。
// 起動直後に1回実行し、コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("クロールスケジューラを開始しました",
		slog.Duration("interval", interval),
	)

	s.runAndLog(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("クロールスケジューラを停止しました")
			return
		case <-ticker.C:
			s.runAndLog(ctx)
		}
	}
}

// StartCron はcron式（5フィールド、UTC）でスケジューラを起動する。
// コンテキストがキャンセルされると実行中のクロールの終了を待って戻る。
func (s *Scheduler) StartCron(ctx context.Context, expr string) error {
	cronParser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(
		cron.WithParser(cronParser),
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(expr, func() { s.runAndLog(ctx) }); err != nil {
		return fmt.Errorf("cron式が不正です: %w", err)
	}

	c.Start()
	s.logger.Info("クロールスケジューラを開始しました", slog.String("cron", expr))

	<-ctx.Done()
	<-c.Stop().Done()
	s.logger.Info("クロールスケジューラを停止しました")
	return nil
}

func (s *Scheduler) runAndLog(ctx context.Context) {
	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.Error("クロールサイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// RunOnce はアクティブなアカウントを作成順に1件ずつクロールする。
// 読み取り専用モード・他の実行中・日次クォータ到達の場合はSuccess=falseと理由を返す。
// 1アカウントの失敗はログに記録して次のアカウントへ進む。
func (s *Scheduler) RunOnce(ctx context.Context) (*RunResult, error) {
	if s.readOnly {
		s.logger.Info("読み取り専用モードのためクロールをスキップします")
		return &RunResult{Reason: ReasonReadOnly}, nil
	}

	unlock, ok, err := s.locker.TryLock(ctx)
	if err != nil {
		return nil, fmt.Errorf("実行ロックの取得に失敗しました: %w", err)
	}
	if !ok {
		s.logger.Info("別のクロールが実行中のためスキップします")
		return &RunResult{Reason: ReasonRunInProgress}, nil
	}
	defer unlock()

	start := s.now()
	state := s.pacer.Restore(ctx)
	s.metrics.SetCrawlerMode(state.Mode)
	limits := s.pacer.Limits(ctx)

	if !s.pacer.CheckDailyQuota(ctx, limits.Daily) {
		s.logger.Warn("日次クォータに到達しているためクロールをスキップします",
			slog.Int("daily", limits.Daily),
		)
		s.metrics.RecordQuotaStop()
		return &RunResult{Reason: ReasonDailyQuota}, nil
	}

	accounts, err := s.accountRepo.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("アクティブなアカウントの取得に失敗しました: %w", err)
	}

	result := &RunResult{Success: true, Total: len(accounts)}
	s.logger.Info("クロールサイクルを開始します",
		slog.Int("account_count", len(accounts)),
		slog.String("mode", string(state.Mode)),
	)

	for i, account := range accounts {
		if i > 0 {
			// 最初のアカウントの前は待機しない
			if !s.pacer.CheckDailyQuota(ctx, s.pacer.Limits(ctx).Daily) {
				s.logger.Warn("日次クォータに到達したためクロールを打ち切ります",
					slog.Int("processed", result.AccountsProcessed),
				)
				s.metrics.RecordQuotaStop()
				result.Success = false
				result.Reason = ReasonDailyQuota
				break
			}
			if err := s.sleep(ctx, s.pacer.NextDelay(ctx)); err != nil {
				s.logger.Info("クロールサイクルが中断されました", slog.String("error", err.Error()))
				break
			}
		}

		res, err := s.crawlAccount(ctx, account)
		if res != nil {
			result.ArticlesInserted += res.Inserted
			result.ArticlesUpdated += res.Updated
		}
		if err != nil {
			result.Errors++
			continue
		}
		result.AccountsProcessed++
	}

	s.logger.Info("クロールサイクルが完了しました",
		slog.Int("processed", result.AccountsProcessed),
		slog.Int("errors", result.Errors),
		slog.Int("total", result.Total),
		slog.Float64("duration_ms", float64(s.now().Sub(start).Milliseconds())),
	)
	return result, nil
}

// RefreshAccount は指定アカウントを1件だけクロールする。
// アカウントが存在しない・非アクティブの場合はAPIErrorを返す。
// 日次クォータと実行ロックはRunOnceと同じく判定し、結果のReasonで返す。
func (s *Scheduler) RefreshAccount(ctx context.Context, accountID string) (*RefreshResult, error) {
	if s.readOnly {
		return nil, model.NewReadOnlyModeError()
	}
	if _, err := uuid.Parse(accountID); err != nil {
		return nil, model.NewAccountNotFoundError(accountID)
	}

	account, err := s.accountRepo.FindByID(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("アカウントの取得に失敗しました: %w", err)
	}
	if account == nil {
		return nil, model.NewAccountNotFoundError(accountID)
	}
	if !account.IsActive {
		return nil, model.NewAccountInactiveError(accountID)
	}

	result := &RefreshResult{AccountID: account.ID, AccountName: account.Name}

	unlock, ok, err := s.locker.TryLock(ctx)
	if err != nil {
		return nil, fmt.Errorf("実行ロックの取得に失敗しました: %w", err)
	}
	if !ok {
		result.Reason = ReasonRunInProgress
		return result, nil
	}
	defer unlock()

	s.pacer.Restore(ctx)
	if !s.pacer.CheckDailyQuota(ctx, s.pacer.Limits(ctx).Daily) {
		s.metrics.RecordQuotaStop()
		result.Reason = ReasonDailyQuota
		return result, nil
	}

	res, err := s.crawlAccount(ctx, account)
	if res != nil {
		result.HTTPStatus = res.HTTPStatus
		result.Inserted = res.Inserted
		result.Updated = res.Updated
		result.Failed = res.Failed
		if res.AccountName != "" && account.HasPlaceholderName() {
			result.AccountName = res.AccountName
		}
	}
	if err != nil {
		result.Message = err.Error()
		return result, nil
	}
	result.Success = true
	return result, nil
}

// crawlAccount はパイプラインを実行し、結果をレートリミッター・フェッチログ・アカウントに反映する。
func (s *Scheduler) crawlAccount(ctx context.Context, account *model.Account) (*AccountResult, error) {
	started := s.now().UTC()
	res, err := s.runner.Run(ctx, account)
	finished := s.now().UTC()
	if res == nil {
		res = &AccountResult{}
	}
	if err == nil && res.Throttled {
		err = fmt.Errorf("HTTP %d により打ち切りました", res.HTTPStatus)
	}

	// 通信エラーのみでステータスがない場合は状態機械に与えない
	if res.HTTPStatus != 0 {
		state := s.pacer.OnResponse(ctx, res.HTTPStatus)
		s.metrics.SetCrawlerMode(state.Mode)
	}
	s.metrics.RecordCrawlLatency(finished.Sub(started))

	log := &model.FetchLog{
		AccountID:  account.ID,
		StartedAt:  started,
		FinishedAt: finished,
		OK:         err == nil,
		HTTPStatus: res.HTTPStatus,
		DurationMs: finished.Sub(started).Milliseconds(),
		Message:    fmt.Sprintf("inserted=%d updated=%d failed=%d", res.Inserted, res.Updated, res.Failed),
	}
	if err != nil {
		log.Message = err.Error()
	}
	if logErr := s.fetchLogRepo.Insert(ctx, log); logErr != nil {
		s.logger.Warn("フェッチログの保存に失敗しました",
			slog.String("account_id", account.ID),
			slog.String("error", logErr.Error()),
		)
	}

	if err != nil {
		s.logger.Error("アカウントのクロールに失敗しました",
			slog.String("account_id", account.ID),
			slog.String("biz_id", account.BizID),
			slog.Int("http_status", res.HTTPStatus),
			slog.String("error", err.Error()),
		)
		s.metrics.RecordCrawlFailure(account.ID, failureLabel(res, err))
		return res, err
	}

	if recErr := s.accountRepo.RecordFetch(ctx, account.ID, res.AccountName, finished); recErr != nil {
		s.logger.Warn("アカウントのフェッチ記録の更新に失敗しました",
			slog.String("account_id", account.ID),
			slog.String("error", recErr.Error()),
		)
	}
	s.metrics.RecordCrawlSuccess(account.ID)
	s.logger.Info("アカウントのクロールが完了しました",
		slog.String("account_id", account.ID),
		slog.Int("http_status", res.HTTPStatus),
		slog.Int("pages", res.Pages),
		slog.Int("inserted", res.Inserted),
		slog.Int("updated", res.Updated),
		slog.Int("failed", res.Failed),
		slog.Float64("duration_ms", float64(log.DurationMs)),
	)
	return res, nil
}

func failureLabel(res *AccountResult, err error) string {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "canceled"
	}
	if reason := FailureReason(res.HTTPStatus); reason != "" {
		return reason
	}
	return "internal"
}
