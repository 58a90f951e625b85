// Package cover はブックカバー生成のドメインロジックを提供する。
package cover

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/covercraft/internal/imagegen"
	"github.com/hitoshi/covercraft/internal/metrics"
	"github.com/hitoshi/covercraft/internal/model"
	"github.com/hitoshi/covercraft/internal/repository"
	"github.com/hitoshi/covercraft/internal/security"
	"github.com/hitoshi/covercraft/internal/storage"
)

const (
	// maxNameLength はタイトル・著者名の最大文字数。
	maxNameLength = 200
	// maxDetailLength はジャンル・キーワード・雰囲気・配色の最大文字数。
	maxDetailLength = 500
	// MaxHistory は履歴として返す最大件数。
	MaxHistory = 50
)

// BalanceReader は残高取得のインターフェース。credit.Serviceが実装する。
type BalanceReader interface {
	GetBalance(ctx context.Context, userID string) (model.Balance, error)
}

// Generated はカバー生成の結果。
type Generated struct {
	Cover    *model.Cover
	ImageURL string
	Balance  model.Balance
}

// Service はカバー生成のサービス層。クレジット残高は変更しない。
type Service struct {
	coverRepo repository.CoverRepository
	generator imagegen.Generator
	store     storage.Store
	sanitizer security.TextSanitizerService
	balances  BalanceReader
	metrics   metrics.MetricsCollector
	logger    *slog.Logger
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	coverRepo repository.CoverRepository,
	generator imagegen.Generator,
	store storage.Store,
	sanitizer security.TextSanitizerService,
	balances BalanceReader,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		coverRepo: coverRepo,
		generator: generator,
		store:     store,
		sanitizer: sanitizer,
		balances:  balances,
		metrics:   collector,
		logger:    logger,
		now:       time.Now,
	}
}

// Normalize はフォーム入力をサニタイズし、必須項目を検証する。
func (s *Service) Normalize(req model.CoverRequest) (model.CoverRequest, error) {
	out := model.CoverRequest{
		BookTitle:    s.sanitizer.Sanitize(req.BookTitle, maxNameLength),
		AuthorName:   s.sanitizer.Sanitize(req.AuthorName, maxNameLength),
		Genre:        s.sanitizer.Sanitize(req.Genre, maxDetailLength),
		Keywords:     s.sanitizer.Sanitize(req.Keywords, maxDetailLength),
		Mood:         s.sanitizer.Sanitize(req.Mood, maxDetailLength),
		ColorPalette: s.sanitizer.Sanitize(req.ColorPalette, maxDetailLength),
	}

	switch {
	case out.BookTitle == "":
		return out, model.NewValidationError("book_title", "タイトルは必須です")
	case out.AuthorName == "":
		return out, model.NewValidationError("author_name", "著者名は必須です")
	case out.Genre == "":
		return out, model.NewValidationError("genre", "ジャンルは必須です")
	}
	return out, nil
}

// BuildPrompt は画像生成プロンプトを組み立てる。
func BuildPrompt(req model.CoverRequest) string {
	genre := req.Genre
	if genre == "" {
		genre = "fiction"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Create a professional book cover image for a %s book", genre)
	if req.Keywords != "" {
		fmt.Fprintf(&b, " featuring %s", req.Keywords)
	}
	if req.Mood != "" {
		fmt.Fprintf(&b, " with a %s atmosphere", req.Mood)
	}
	if req.ColorPalette != "" {
		fmt.Fprintf(&b, " using %s", req.ColorPalette)
	}
	b.WriteString(". The image should be suitable for a book cover with space for title and author text overlay. High quality, professional, artistic composition, 3:4 aspect ratio.")
	return b.String()
}

// Generate はカバー画像を生成して保存し、メタデータを記録する。
func (s *Service) Generate(ctx context.Context, userID string, req model.CoverRequest) (*Generated, error) {
	req, err := s.Normalize(req)
	if err != nil {
		return nil, err
	}

	prompt := BuildPrompt(req)
	img, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		s.metrics.RecordGenerationFailure("generator")
		s.logger.Error("cover generation failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewGenerationFailedError()
	}

	now := s.now()
	key := storage.NewKey(now, img.MimeType)
	if err := s.store.Put(ctx, key, img.MimeType, img.Data); err != nil {
		s.metrics.RecordGenerationFailure("storage")
		return nil, fmt.Errorf("画像の保存に失敗しました: %w", err)
	}

	owner := userID
	c := &model.Cover{
		ID:           uuid.New().String(),
		UserID:       &owner,
		BookTitle:    req.BookTitle,
		AuthorName:   req.AuthorName,
		Genre:        req.Genre,
		Keywords:     req.Keywords,
		Mood:         req.Mood,
		ColorPalette: req.ColorPalette,
		Prompt:       prompt,
		StorageKey:   key,
		ContentType:  img.MimeType,
		Downloaded:   false,
		CreatedAt:    now,
	}
	if err := s.coverRepo.Create(ctx, c); err != nil {
		s.metrics.RecordGenerationFailure("persistence")
		return nil, fmt.Errorf("カバーの保存に失敗しました: %w", err)
	}

	// プレビューは生成したバイト列をそのままdata URLで返す
	imageURL := storage.DataURL(img.MimeType, img.Data)

	balance, err := s.balances.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordCoverGenerated()
	s.logger.Info("cover generated",
		slog.String("user_id", userID),
		slog.String("cover_id", c.ID),
		slog.Int("bytes", len(img.Data)),
	)

	return &Generated{Cover: c, ImageURL: imageURL, Balance: balance}, nil
}

// List はユーザーの生成履歴を新しい順に返す。
func (s *Service) List(ctx context.Context, userID string) ([]*model.Cover, error) {
	covers, err := s.coverRepo.ListByUserID(ctx, userID, MaxHistory)
	if err != nil {
		return nil, fmt.Errorf("カバー一覧の取得に失敗しました: %w", err)
	}
	return covers, nil
}

// Get は指定IDのカバーを返す。他人のカバーは未検出として扱う。
func (s *Service) Get(ctx context.Context, userID, coverID string) (*model.Cover, error) {
	c, err := s.coverRepo.FindByID(ctx, coverID)
	if err != nil {
		return nil, fmt.Errorf("カバーの取得に失敗しました: %w", err)
	}
	if c == nil || (c.UserID != nil && !c.OwnedBy(userID)) {
		return nil, model.NewCoverNotFoundError(coverID)
	}
	return c, nil
}
