package identity

import (
	"time"

	"github.com/nao1215/tutorlink/pkg/middleware"
)

// ユーザーメタデータのキー。
const (
	MetadataFullName  = "full_name"
	MetadataAvatarURL = "avatar_url"
)

// User はSupabaseのユーザーレコード。
type User struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	Role         string         `json:"role,omitempty"`
	UserMetadata map[string]any `json:"user_metadata,omitempty"`
	AppMetadata  map[string]any `json:"app_metadata,omitempty"`
	CreatedAt    *time.Time     `json:"created_at,omitempty"`
}

// FullName はユーザーメタデータの表示名を返す。
func (u User) FullName() string {
	return metadataString(u.UserMetadata, MetadataFullName)
}

// AvatarURL はユーザーメタデータのアバターURLを返す。
func (u User) AvatarURL() string {
	return metadataString(u.UserMetadata, MetadataAvatarURL)
}

// Identity は認証ゲートが扱うユーザー表現に変換する。
func (u User) Identity() *middleware.Identity {
	return &middleware.Identity{
		ID:       u.ID,
		Email:    u.Email,
		Metadata: u.UserMetadata,
	}
}

// Session はアクセストークンとリフレッシュトークンの組。
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int    `json:"expires_in,omitempty"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
}

// AuthResult はサインアップ・サインイン・トークン更新の結果。
// メール確認が必要なサインアップではSessionがnilになる。
type AuthResult struct {
	User    *User
	Session *Session
}

// authResponse はGoTrueのレスポンス。
// セッションを含む形式（user がネスト）とユーザーのみの形式（トップレベルにid）の両方を受け付ける。
type authResponse struct {
	AccessToken  string         `json:"access_token"`
	RefreshToken string         `json:"refresh_token"`
	TokenType    string         `json:"token_type"`
	ExpiresIn    int            `json:"expires_in"`
	ExpiresAt    int64          `json:"expires_at"`
	User         *User          `json:"user"`
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	Role         string         `json:"role"`
	UserMetadata map[string]any `json:"user_metadata"`
	AppMetadata  map[string]any `json:"app_metadata"`
	CreatedAt    *time.Time     `json:"created_at"`
}

// result はレスポンスをAuthResultに変換する。
func (r authResponse) result() *AuthResult {
	res := &AuthResult{User: r.User}
	if res.User == nil && r.ID != "" {
		res.User = &User{
			ID:           r.ID,
			Email:        r.Email,
			Role:         r.Role,
			UserMetadata: r.UserMetadata,
			AppMetadata:  r.AppMetadata,
			CreatedAt:    r.CreatedAt,
		}
	}
	if r.AccessToken != "" {
		res.Session = &Session{
			AccessToken:  r.AccessToken,
			RefreshToken: r.RefreshToken,
			TokenType:    r.TokenType,
			ExpiresIn:    r.ExpiresIn,
			ExpiresAt:    r.ExpiresAt,
		}
	}
	return res
}

func metadataString(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
