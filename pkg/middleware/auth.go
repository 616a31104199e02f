package middleware

import (
	"context"
	"errors"
	"maps"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// 認証失敗時にレスポンスへ含める機械可読なエラーコード。
const (
	CodeMissingAuthorization = "missing_authorization"
	CodeInvalidAuthorization = "invalid_authorization_format"
	CodeMissingToken         = "missing_token"
	CodeInvalidToken         = "invalid_token"
)

// bearerPrefix はAuthorizationヘッダーに必須の接頭辞。
const bearerPrefix = "Bearer "

// ginKeyIdentity はGinコンテキストに認証済みユーザーを格納するキー。
const ginKeyIdentity = "identity"

// ErrNoIdentity は検証結果にユーザーが含まれない場合のエラー。
var ErrNoIdentity = errors.New("検証結果にユーザーが含まれていません")

// Identity はベアラートークンから解決された認証済みユーザーを表す。
// 1リクエストにつき1つだけ設定され、リクエスト処理中は変更されない。
type Identity struct {
	// ID はユーザーの一意識別子。
	ID string `json:"id"`
	// Email はユーザーのメールアドレス。
	Email string `json:"email"`
	// Metadata は表示名やアバターURLなどの任意情報。
	Metadata map[string]any `json:"user_metadata,omitempty"`
	// Token は検証に使用したベアラートークン。レスポンスには含めない。
	Token string `json:"-"`
}

// MetadataString はメタデータの文字列値を返す。値が無いか文字列でない場合は空文字列。
func (i Identity) MetadataString(key string) string {
	if v, ok := i.Metadata[key].(string); ok {
		return v
	}
	return ""
}

// TokenVerifier はベアラートークンを検証してユーザーを解決する。
// 実装はトークンごとに外部サービスへ問い合わせ、キャッシュもリトライもしない。
type TokenVerifier interface {
	VerifyToken(ctx context.Context, token string) (*Identity, error)
}

// Auth はベアラートークンを検証するGinミドルウェアを返す。
// ヘッダーが不正な場合は検証器を呼び出さずに401を返す。
// 検証に成功した場合、Ginコンテキストとリクエストコンテキストの両方にユーザーを設定する。
func Auth(verifier TokenVerifier, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortUnauthorized(c, CodeMissingAuthorization, "Authorization header required")
			return
		}

		tokenString, found := strings.CutPrefix(authHeader, bearerPrefix)
		if !found {
			abortUnauthorized(c, CodeInvalidAuthorization, "Invalid authorization header format. Use: Bearer <token>")
			return
		}
		tokenString = strings.TrimSpace(tokenString)
		if tokenString == "" {
			abortUnauthorized(c, CodeMissingToken, "Token not provided")
			return
		}

		identity, err := verifier.VerifyToken(c.Request.Context(), tokenString)
		if err == nil && (identity == nil || identity.ID == "") {
			err = ErrNoIdentity
		}
		if err != nil {
			// 検証器の内部エラーはクライアントに返さずログにのみ出力する
			logger.Warn("トークン検証に失敗",
				zap.String("path", c.Request.URL.Path),
				zap.String("request_id", GetRequestID(c)),
				zap.Error(err),
			)
			abortUnauthorized(c, CodeInvalidToken, "Invalid or expired token")
			return
		}

		attached := *identity
		attached.Metadata = maps.Clone(identity.Metadata)
		attached.Token = tokenString

		c.Set(ginKeyIdentity, attached)
		c.Request = c.Request.WithContext(WithIdentity(c.Request.Context(), attached))
		c.Next()
	}
}

// abortUnauthorized は401レスポンスを返して後続のハンドラーを中断する。
func abortUnauthorized(c *gin.Context, code, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": message,
		"code":  code,
	})
}

// identityContextKey はリクエストコンテキストにユーザーを格納するためのキー。
type identityContextKey struct{}

// WithIdentity はコンテキストに認証済みユーザーを設定する。
func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFrom はコンテキストから認証済みユーザーを取得する。
// 返り値はコピーのため、呼び出し元が変更してもリクエストのユーザーには影響しない。
func IdentityFrom(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(Identity)
	if !ok {
		return Identity{}, false
	}
	identity.Metadata = maps.Clone(identity.Metadata)
	return identity, true
}

// CurrentIdentity はGinコンテキストから認証済みユーザーを取得する。
// Authミドルウェアが事前に適用されている必要がある。
func CurrentIdentity(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(ginKeyIdentity)
	if !ok {
		return Identity{}, false
	}
	identity, ok := v.(Identity)
	if !ok {
		return Identity{}, false
	}
	identity.Metadata = maps.Clone(identity.Metadata)
	return identity, true
}

// GetUserID はGinコンテキストからユーザーIDを取得する。
// 未認証の場合は空文字列を返す。
func GetUserID(c *gin.Context) string {
	identity, ok := CurrentIdentity(c)
	if !ok {
		return ""
	}
	return identity.ID
}
