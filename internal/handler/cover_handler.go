package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/hitoshi/covercraft/internal/cover"
	"github.com/hitoshi/covercraft/internal/model"
)

// CoverServiceInterface はカバーハンドラーが必要とするサービスインターフェース。
type CoverServiceInterface interface {
	// Generate はカバー画像を生成して保存する。
	Generate(ctx context.Context, userID string, req model.CoverRequest) (*cover.Generated, error)
	// List はユーザーの生成履歴を返す。
	List(ctx context.Context, userID string) ([]*model.Cover, error)
}

// CoverHandler はカバー生成のHTTPハンドラー。
type CoverHandler struct {
	service     CoverServiceInterface
	currentUser CurrentUser
}

// NewCoverHandler はCoverHandlerを生成する。
func NewCoverHandler(service CoverServiceInterface, currentUser CurrentUser) *CoverHandler {
	if currentUser == nil {
		currentUser = userFromSession
	}
	return &CoverHandler{service: service, currentUser: currentUser}
}

// generateCoverRequest はカバー生成リクエストのボディ。
type generateCoverRequest struct {
	BookTitle    string `json:"book_title"`
	AuthorName   string `json:"author_name"`
	Genre        string `json:"genre"`
	Keywords     string `json:"keywords"`
	Mood         string `json:"mood"`
	ColorPalette string `json:"color_palette"`
}

// coverResponse はカバーメタデータのAPIレスポンス。
type coverResponse struct {
	ID           string    `json:"id"`
	BookTitle    string    `json:"book_title"`
	AuthorName   string    `json:"author_name"`
	Genre        string    `json:"genre"`
	Keywords     string    `json:"keywords,omitempty"`
	Mood         string    `json:"mood,omitempty"`
	ColorPalette string    `json:"color_palette,omitempty"`
	Downloaded   bool      `json:"downloaded"`
	CreatedAt    time.Time `json:"created_at"`
}

// generateCoverResponse はカバー生成のAPIレスポンス。
type generateCoverResponse struct {
	Cover    coverResponse   `json:"cover"`
	ImageURL string          `json:"image_url"`
	User     balanceResponse `json:"user"`
}

// GenerateCover はカバー生成を処理する。
// POST /api/generate-cover
func (h *CoverHandler) GenerateCover(w http.ResponseWriter, r *http.Request) {
	userID, ok := resolveUser(w, r, h.currentUser)
	if !ok {
		return
	}

	var req generateCoverRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	generated, err := h.service.Generate(r.Context(), userID, model.CoverRequest{
		BookTitle:    req.BookTitle,
		AuthorName:   req.AuthorName,
		Genre:        req.Genre,
		Keywords:     req.Keywords,
		Mood:         req.Mood,
		ColorPalette: req.ColorPalette,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, generateCoverResponse{
		Cover:    toCoverResponse(generated.Cover),
		ImageURL: generated.ImageURL,
		User:     toBalanceResponse(generated.Balance),
	})
}

// ListCovers はユーザーの生成履歴を返す。
// GET /api/covers
func (h *CoverHandler) ListCovers(w http.ResponseWriter, r *http.Request) {
	userID, ok := resolveUser(w, r, h.currentUser)
	if !ok {
		return
	}

	covers, err := h.service.List(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := make([]coverResponse, 0, len(covers))
	for _, c := range covers {
		resp = append(resp, toCoverResponse(c))
	}
	writeJSON(w, http.StatusOK, resp)
}

func toCoverResponse(c *model.Cover) coverResponse {
	return coverResponse{
		ID:           c.ID,
		BookTitle:    c.BookTitle,
		AuthorName:   c.AuthorName,
		Genre:        c.Genre,
		Keywords:     c.Keywords,
		Mood:         c.Mood,
		ColorPalette: c.ColorPalette,
		Downloaded:   c.Downloaded,
		CreatedAt:    c.CreatedAt,
	}
}
