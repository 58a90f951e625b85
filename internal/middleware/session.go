// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/covercraft/internal/model"
)

const sessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
var userIDContextKey = contextKey("user_id")

// SessionStore はセッションの検索と期限延長に必要なインターフェース。
// repository.SessionRepositoryと同じメソッドを持つ。
type SessionStore interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
	Extend(ctx context.Context, id string, expiresAt time.Time) (bool, error)
}

// UserSessionCreator は匿名ユーザーとセッションの作成に必要なインターフェース。
// repository.UserRepositoryの部分集合として定義する。
type UserSessionCreator interface {
	CreateWithSession(ctx context.Context, user *model.User, session *model.Session) error
}

// SessionConfig はセッションミドルウェアの設定。
type SessionConfig struct {
	MaxAge        time.Duration
	FreeDownloads int // 新規ユーザーの初期残高。負の場合はmodel.DefaultFreeDownloads
	CookieSecure  bool
	CookieDomain  string
}

// NewSessionMiddleware はHTTP Only Cookieからセッションを読み取るミドルウェアを返す。
// Cookieがない、またはセッションが無効な場合は匿名ユーザーとセッションを新規作成し、
// Cookieを発行する。ユーザーIDはリクエストコンテキストに注入される。
// 残り期限がMaxAgeの半分を切った有効なセッションは期限を延長し、Cookieを再発行する。
func NewSessionMiddleware(store SessionStore, creator UserSessionCreator, config SessionConfig) func(next http.Handler) http.Handler {
	if config.FreeDownloads < 0 {
		config.FreeDownloads = model.DefaultFreeDownloads
	}
	if config.MaxAge <= 0 {
		config.MaxAge = 30 * 24 * time.Hour
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// 1. 既存セッションの有効性を検証
			if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
				session, err := store.FindByID(r.Context(), cookie.Value)
				if err != nil {
					slog.Error("failed to find session",
						slog.String("error", err.Error()),
					)
					WriteInternalServerError(w)
					return
				}
				if session != nil {
					renewSession(r.Context(), w, store, session, config)
					next.ServeHTTP(w, r.WithContext(ContextWithUserID(r.Context(), session.UserID)))
					return
				}
			}

			// 2. 匿名ユーザーとセッションを作成
			session, err := createAnonymousSession(r.Context(), creator, config)
			if err != nil {
				slog.Error("failed to create anonymous session",
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}

			setSessionCookie(w, session.ID, config)

			// 3. ユーザーIDをコンテキストに注入
			next.ServeHTTP(w, r.WithContext(ContextWithUserID(r.Context(), session.UserID)))
		})
	}
}

// renewSession は残り期限が短くなったセッションを延長する。
// 延長に失敗してもリクエストは既存の期限のまま処理を続ける。
func renewSession(ctx context.Context, w http.ResponseWriter, store SessionStore, session *model.Session, config SessionConfig) {
	if time.Until(session.ExpiresAt) >= config.MaxAge/2 {
		return
	}
	extended, err := store.Extend(ctx, session.ID, time.Now().Add(config.MaxAge))
	if err != nil {
		slog.Warn("failed to extend session",
			slog.String("error", err.Error()),
		)
		return
	}
	if extended {
		setSessionCookie(w, session.ID, config)
	}
}

func setSessionCookie(w http.ResponseWriter, sessionID string, config SessionConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sessionID,
		Path:     "/",
		Domain:   config.CookieDomain,
		MaxAge:   int(config.MaxAge.Seconds()),
		HttpOnly: true,
		Secure:   config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// createAnonymousSession は初期残高を持つユーザーとセッションを同一トランザクションで作成する。
func createAnonymousSession(ctx context.Context, creator UserSessionCreator, config SessionConfig) (*model.Session, error) {
	now := time.Now()
	user := &model.User{
		ID:            uuid.New().String(),
		FreeDownloads: config.FreeDownloads,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	session := &model.Session{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		ExpiresAt: now.Add(config.MaxAge),
		CreatedAt: now,
	}
	if err := creator.CreateWithSession(ctx, user, session); err != nil {
		return nil, err
	}
	return session, nil
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	noteUserID(ctx, userID)
	return context.WithValue(ctx, userIDContextKey, userID)
}
