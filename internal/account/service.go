// Package account は公式アカウントの登録・一覧・更新・CSV一括登録を提供する。
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/hitoshi/mpheat/internal/model"
	"github.com/hitoshi/mpheat/internal/parser"
	"github.com/hitoshi/mpheat/internal/repository"
)

// BizResolver は短縮URLなど__bizを含まないURLからbiz_idを解決する。
type BizResolver interface {
	ResolveBizID(ctx context.Context, rawURL string) (string, error)
}

// Service はアカウント管理のサービス層。
type Service struct {
	accountRepo repository.AccountRepository
	resolver    BizResolver
	logger      *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
// resolverがnilの場合、ResolveBizIDはURL内の__bizのみを参照する。
func NewService(accountRepo repository.AccountRepository, resolver BizResolver, logger *slog.Logger) *Service {
	return &Service{
		accountRepo: accountRepo,
		resolver:    resolver,
		logger:      logger,
	}
}

// ValidStar はスター評価が1〜5の範囲内かを返す。
func ValidStar(star int) bool {
	return star >= 1 && star <= 5
}

// Create はシードURLからアカウントを登録する。
// URLが公式アカウント記事の形式でないか__bizを含まない場合はInvalidURLエラー、
// スター評価が範囲外ならInvalidStarエラー、biz_idが登録済みならDuplicateAccountエラー。
// 表示名は初回クロールまでプレースホルダになる。
func (s *Service) Create(ctx context.Context, seedURL string, star int) (*model.Account, error) {
	seedURL = strings.TrimSpace(seedURL)
	if !parser.IsWeChatArticleURL(seedURL) {
		return nil, model.NewInvalidWeChatURLError()
	}
	bizID, err := parser.ExtractAccountID(seedURL)
	if err != nil {
		return nil, model.NewInvalidWeChatURLError()
	}
	if !ValidStar(star) {
		return nil, model.NewInvalidStarError(star)
	}

	return s.insert(ctx, &model.Account{
		ID:       uuid.New().String(),
		BizID:    bizID,
		Name:     model.PlaceholderAccountName,
		SeedURL:  seedURL,
		Star:     star,
		IsActive: true,
	})
}

func (s *Service) insert(ctx context.Context, a *model.Account) (*model.Account, error) {
	existing, err := s.accountRepo.FindByBizID(ctx, a.BizID)
	if err != nil {
		return nil, fmt.Errorf("アカウントの検索に失敗しました: %w", err)
	}
	if existing != nil {
		return nil, model.NewDuplicateAccountError(a.BizID)
	}

	if err := s.accountRepo.Create(ctx, a); err != nil {
		// 検索と作成の間に同じbiz_idが登録された場合
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, model.NewDuplicateAccountError(a.BizID)
		}
		return nil, fmt.Errorf("アカウントの作成に失敗しました: %w", err)
	}

	s.logger.Info("アカウントを登録しました",
		slog.String("account_id", a.ID),
		slog.String("biz_id", a.BizID),
		slog.Int("star", a.Star),
	)
	return a, nil
}

// List は全アカウントを作成日時の降順で返す。
func (s *Service) List(ctx context.Context) ([]*model.Account, error) {
	accounts, err := s.accountRepo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("アカウント一覧の取得に失敗しました: %w", err)
	}
	if accounts == nil {
		accounts = []*model.Account{}
	}
	return accounts, nil
}

// Update はアカウントを部分更新する。
// 空のパッチはInvalidRequest、存在しないIDはAccountNotFoundエラー。
func (s *Service) Update(ctx context.Context, id string, patch model.AccountPatch) (*model.Account, error) {
	if patch.IsEmpty() {
		return nil, model.NewInvalidRequestError("No updatable fields in request")
	}
	if patch.Star != nil && !ValidStar(*patch.Star) {
		return nil, model.NewInvalidStarError(*patch.Star)
	}
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return nil, model.NewInvalidRequestError("Name must not be empty")
	}
	if patch.FeedURL != nil {
		if u := strings.TrimSpace(*patch.FeedURL); u != "" && !hasHTTPScheme(u) {
			return nil, model.NewInvalidRequestError("feed_url must be an http(s) URL")
		}
	}

	if _, err := uuid.Parse(id); err != nil {
		return nil, model.NewAccountNotFoundError(id)
	}
	a, err := s.accountRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("アカウントの取得に失敗しました: %w", err)
	}
	if a == nil {
		return nil, model.NewAccountNotFoundError(id)
	}

	if patch.Star != nil {
		a.Star = *patch.Star
	}
	if patch.IsActive != nil {
		a.IsActive = *patch.IsActive
	}
	if patch.Name != nil {
		a.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.FeedURL != nil {
		a.FeedURL = strings.TrimSpace(*patch.FeedURL)
	}

	if err := s.accountRepo.Update(ctx, a); err != nil {
		return nil, fmt.Errorf("アカウントの更新に失敗しました: %w", err)
	}
	s.logger.Info("アカウントを更新しました", slog.String("account_id", a.ID))
	return a, nil
}

// ResolveBizID はURLからbiz_idを解決する。
// URLに__bizが含まれていればそれを返し、なければリダイレクト先や本文から解決を試みる。
func (s *Service) ResolveBizID(ctx context.Context, rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	if !hasHTTPScheme(rawURL) {
		return "", model.NewInvalidWeChatURLError()
	}
	if bizID, err := parser.ExtractAccountID(rawURL); err == nil {
		return bizID, nil
	}
	if s.resolver == nil {
		return "", model.NewBizNotResolvedError(rawURL)
	}

	bizID, err := s.resolver.ResolveBizID(ctx, rawURL)
	if err != nil {
		s.logger.Warn("biz_idの解決に失敗しました",
			slog.String("url", rawURL),
			slog.String("error", err.Error()),
		)
		return "", model.NewBizNotResolvedError(rawURL)
	}
	return bizID, nil
}

func hasHTTPScheme(u string) bool {
	lower := strings.ToLower(u)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}
