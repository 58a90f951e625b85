package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/covercraft/internal/middleware"
	"github.com/hitoshi/covercraft/internal/model"
)

// maxRequestBodySize はJSONリクエストボディの上限（64KB）。
const maxRequestBodySize = 64 << 10

// CurrentUser はリクエストコンテキストから現在のユーザーIDを解決する関数。
type CurrentUser func(r *http.Request) (string, error)

// userFromSession はセッションミドルウェアが注入したユーザーIDを返す。
func userFromSession(r *http.Request) (string, error) {
	return middleware.UserIDFromContext(r.Context())
}

// balanceResponse はクレジット残高のAPIレスポンス。
type balanceResponse struct {
	FreeDownloads  int `json:"free_downloads"`
	TotalDownloads int `json:"total_downloads"`
}

func toBalanceResponse(b model.Balance) balanceResponse {
	return balanceResponse{FreeDownloads: b.Free, TotalDownloads: b.Total}
}

// writeJSON はステータスコードとJSONボディを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// decodeJSON はリクエストボディを読み込む。失敗時はエラーレスポンスを書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodySize))
	if err := dec.Decode(dst); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return false
	}
	return true
}

// resolveUser は現在のユーザーIDを解決する。失敗時は500を書き込みfalseを返す。
func resolveUser(w http.ResponseWriter, r *http.Request, currentUser CurrentUser) (string, bool) {
	userID, err := currentUser(r)
	if err != nil {
		slog.Error("user not resolved", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return "", false
	}
	return userID, true
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, middleware.StatusCodeFor(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}
