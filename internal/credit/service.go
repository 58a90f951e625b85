// Package credit はダウンロードクレジット残高のドメインロジックを提供する。
package credit

import (
	"context"
	"errors"
	"fmt"

	"github.com/hitoshi/covercraft/internal/model"
	"github.com/hitoshi/covercraft/internal/repository"
)

// Service はクレジット残高のサービス層。
// 残高の読み取りと変更はすべてリポジトリの条件付きUPDATEに委譲し、
// このサービス自身は状態を保持しない。
type Service struct {
	userRepo      repository.UserRepository
	freeDownloads int
}

// NewService はServiceの新しいインスタンスを生成する。
// freeDownloadsは新規ユーザーに付与する初期残高。0は無料枠なしを意味し、
// 負の場合はmodel.DefaultFreeDownloadsを使用する。
func NewService(userRepo repository.UserRepository, freeDownloads int) *Service {
	if freeDownloads < 0 {
		freeDownloads = model.DefaultFreeDownloads
	}
	return &Service{
		userRepo:      userRepo,
		freeDownloads: freeDownloads,
	}
}

// GetBalance はユーザーの残高を返す。ユーザーが存在しない場合は初期残高で作成する。
func (s *Service) GetBalance(ctx context.Context, userID string) (model.Balance, error) {
	user, err := s.userRepo.GetOrCreate(ctx, userID, s.freeDownloads)
	if err != nil {
		return model.Balance{}, fmt.Errorf("残高の取得に失敗しました: %w", err)
	}
	return user.Balance(), nil
}

// TryConsumeFreeCredit はカバーに紐付けずに1クレジットを消費する。
// 残高が0の場合はmodel.ErrInsufficientCreditを返す。
// カバー配信はダウンロード済みフラグと同一トランザクションで消費するConsumeForCoverを使う。
// どちらもrepositoryの同じ条件付きUPDATEを通る。
func (s *Service) TryConsumeFreeCredit(ctx context.Context, userID string) (model.Balance, error) {
	if err := s.ensureUser(ctx, userID); err != nil {
		return model.Balance{}, err
	}

	balance, err := s.userRepo.TryConsumeFreeDownload(ctx, userID)
	if errors.Is(err, model.ErrInsufficientCredit) {
		return model.Balance{}, err
	}
	if err != nil {
		return model.Balance{}, fmt.Errorf("クレジットの消費に失敗しました: %w", err)
	}
	return balance, nil
}

// ConsumeForCover は1クレジットを消費し、カバーをダウンロード済みにする。
// 両方の変更は同一トランザクションで行われる。
func (s *Service) ConsumeForCover(ctx context.Context, userID, coverID string) (model.Balance, error) {
	if err := s.ensureUser(ctx, userID); err != nil {
		return model.Balance{}, err
	}

	balance, err := s.userRepo.ConsumeForCover(ctx, userID, coverID)
	if err != nil {
		var apiErr *model.APIError
		if errors.Is(err, model.ErrInsufficientCredit) || errors.As(err, &apiErr) {
			return model.Balance{}, err
		}
		return model.Balance{}, fmt.Errorf("クレジットの消費に失敗しました: %w", err)
	}
	return balance, nil
}

// GrantCredits はユーザーにamount分のクレジットを付与する。grantサブコマンドから使う。
// 決済確定時の付与は決済記録と同一トランザクションで行うため、
// PostgresPaymentRepo.Settleが同じgrantCredits経路で直接実行する。
func (s *Service) GrantCredits(ctx context.Context, userID string, amount int) (model.Balance, error) {
	if amount <= 0 {
		return model.Balance{}, model.NewValidationError("amount", "付与数は1以上である必要があります")
	}
	if err := s.ensureUser(ctx, userID); err != nil {
		return model.Balance{}, err
	}

	balance, err := s.userRepo.GrantCredits(ctx, userID, amount)
	if err != nil {
		return model.Balance{}, fmt.Errorf("クレジットの付与に失敗しました: %w", err)
	}
	return balance, nil
}

// ensureUser は未登録ユーザーを初期残高で作成する。
func (s *Service) ensureUser(ctx context.Context, userID string) error {
	if _, err := s.userRepo.GetOrCreate(ctx, userID, s.freeDownloads); err != nil {
		return fmt.Errorf("ユーザーの作成に失敗しました: %w", err)
	}
	return nil
}
