package pacing

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/hitoshi/mpheat/internal/model"
)

// LimitsSource はペーシングパラメータの取得元。呼び出しごとに参照されるため、
// 設定の変更は次の計算から反映される。
type LimitsSource interface {
	RateLimits(ctx context.Context) (Limits, error)
}

// StateStore はクローラー状態の永続化先。
type StateStore interface {
	Load(ctx context.Context) (model.CrawlerState, error)
	Save(ctx context.Context, state model.CrawlerState) error
}

// FetchLogCounter は期間内に開始されたフェッチログの件数を数える。
type FetchLogCounter interface {
	CountStartedBetween(ctx context.Context, from, to time.Time) (int, error)
}

// Pacer はペーシング状態機械に設定・永続化・日次クォータを組み合わせる。
// クロール実行は同時に1つであることを前提とするが、
// 手動リフレッシュとの競合に備えて状態はミューテックスで保護する。
type Pacer struct {
	limits  LimitsSource
	store   StateStore
	counter FetchLogCounter
	logger  *slog.Logger

	mu    sync.Mutex
	state model.CrawlerState
	rng   Rand
	now   func() time.Time
}

// NewPacer はPacerを生成する。状態は初期状態から始まり、Restoreで永続化済みの値を読み込む。
func NewPacer(limits LimitsSource, store StateStore, counter FetchLogCounter, logger *slog.Logger) *Pacer {
	return &Pacer{
		limits:  limits,
		store:   store,
		counter: counter,
		logger:  logger,
		state:   model.NewCrawlerState(),
		rng:     rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x6d70686561)),
		now:     time.Now,
	}
}

// Restore は永続化された状態を読み込む。
// 読み込みに失敗した場合は現在の状態を維持する。状態の喪失は最悪でも
// slow→normalの回復が1回余分に起こるだけのため、実行は継続する。
func (p *Pacer) Restore(ctx context.Context) model.CrawlerState {
	state, err := p.store.Load(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	if err != nil {
		p.logger.Warn("クローラー状態の読み込みに失敗しました。現在の状態で継続します",
			slog.String("error", err.Error()),
			slog.String("mode", string(p.state.Mode)),
		)
		return p.state
	}
	p.state = state
	return p.state
}

// State は現在の状態を返す。
func (p *Pacer) State() model.CrawlerState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Limits は現在のパラメータを返す。取得に失敗した場合は既定値を返す。
func (p *Pacer) Limits(ctx context.Context) Limits {
	limits, err := p.limits.RateLimits(ctx)
	if err != nil {
		p.logger.Warn("レート制限設定の取得に失敗しました。既定値を使用します",
			slog.String("error", err.Error()),
		)
		return DefaultLimits()
	}
	return limits
}

// NextDelay は現在のモードと最新のパラメータから次の待機時間を返す。
func (p *Pacer) NextDelay(ctx context.Context) time.Duration {
	limits := p.Limits(ctx)

	p.mu.Lock()
	defer p.mu.Unlock()
	return NextDelay(p.state, limits, p.rng)
}

// OnResponse はHTTPステータスを状態機械に与え、遷移後の状態を永続化して返す。
// 永続化の失敗は警告として記録し、メモリ上の状態は更新する。
func (p *Pacer) OnResponse(ctx context.Context, status int) model.CrawlerState {
	limits := p.Limits(ctx)

	p.mu.Lock()
	prev := p.state
	p.state = Transition(prev, status, limits, p.now())
	next := p.state
	p.mu.Unlock()

	if prev.Mode != next.Mode {
		p.logger.Info("クローラーモードが変化しました",
			slog.String("from", string(prev.Mode)),
			slog.String("to", string(next.Mode)),
			slog.Int("http_status", status),
		)
	}

	if err := p.store.Save(ctx, next); err != nil {
		p.logger.Warn("クローラー状態の保存に失敗しました",
			slog.String("error", err.Error()),
		)
	}
	return next
}

// CheckDailyQuota は当日（UTC）に開始されたフェッチログ件数がdailyLimit未満かを返す。
// 計数に失敗した場合は続行を許可する（クォータ判定の障害でクロールを止めない）。
func (p *Pacer) CheckDailyQuota(ctx context.Context, dailyLimit int) bool {
	now := p.now().UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 1)

	count, err := p.counter.CountStartedBetween(ctx, start, end)
	if err != nil {
		p.logger.Warn("日次クォータの計数に失敗しました。続行を許可します",
			slog.String("error", err.Error()),
		)
		return true
	}
	return count < dailyLimit
}
