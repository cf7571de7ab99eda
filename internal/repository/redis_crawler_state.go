package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/mpheat/internal/model"
)

// CrawlerStateKey はRedis上のクローラー状態のキー。
const CrawlerStateKey = "mpheat:crawler_state"

// redisPingTimeout は接続確認のタイムアウト。
const redisPingTimeout = 5 * time.Second

// ErrEmptyRedisAddress はRedisのアドレスが未設定の場合のエラー。
var ErrEmptyRedisAddress = errors.New("redis address is required")

// RedisConfig はRedis接続設定を表す。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

// NewRedisClient はRedisクライアントを生成し、接続を確認する。
func NewRedisClient(cfg RedisConfig) (*redis.Client, error) {
	if cfg.Address == "" {
		return nil, ErrEmptyRedisAddress
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

type crawlerStateJSON struct {
	Mode          string     `json:"mode"`
	SuccessStreak int        `json:"success_streak"`
	SlowSince     *time.Time `json:"slow_since"`
}

// RedisCrawlerStateRepo はクローラー状態をRedisにJSONで保存するリポジトリ。
// api/worker/crawl-once の複数プロセスで状態を共有する。
type RedisCrawlerStateRepo struct {
	client redis.Cmdable
	key    string
}

// NewRedisCrawlerStateRepo はRedisCrawlerStateRepoを生成する。
func NewRedisCrawlerStateRepo(client redis.Cmdable) *RedisCrawlerStateRepo {
	return &RedisCrawlerStateRepo{client: client, key: CrawlerStateKey}
}

// Load は保存済みの状態を返す。キーがない場合は初期状態を返す。
func (r *RedisCrawlerStateRepo) Load(ctx context.Context) (model.CrawlerState, error) {
	raw, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.NewCrawlerState(), nil
	}
	if err != nil {
		return model.NewCrawlerState(), fmt.Errorf("Redisからのクローラー状態の取得に失敗しました: %w", err)
	}

	var v crawlerStateJSON
	if err := json.Unmarshal(raw, &v); err != nil {
		return model.NewCrawlerState(), fmt.Errorf("クローラー状態の解析に失敗しました: %w", err)
	}

	state := model.CrawlerState{Mode: model.CrawlerMode(v.Mode), SuccessStreak: v.SuccessStreak}
	if state.Mode != model.CrawlerModeSlow {
		state.Mode = model.CrawlerModeNormal
	}
	if v.SlowSince != nil {
		t := v.SlowSince.UTC()
		state.SlowSince = &t
	}
	return state, nil
}

// Save は状態を保存する。有効期限は設定しない。
func (r *RedisCrawlerStateRepo) Save(ctx context.Context, state model.CrawlerState) error {
	raw, err := json.Marshal(crawlerStateJSON{
		Mode:          string(state.Mode),
		SuccessStreak: state.SuccessStreak,
		SlowSince:     state.SlowSince,
	})
	if err != nil {
		return fmt.Errorf("クローラー状態のエンコードに失敗しました: %w", err)
	}
	if err := r.client.Set(ctx, r.key, raw, 0).Err(); err != nil {
		return fmt.Errorf("Redisへのクローラー状態の保存に失敗しました: %w", err)
	}
	return nil
}

var _ CrawlerStateRepository = (*RedisCrawlerStateRepo)(nil)
