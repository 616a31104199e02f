package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nao1215/tutorlink/pkg/httpclient"
	"github.com/nao1215/tutorlink/pkg/middleware"
)

// GoTrue（Supabase Auth）のエンドポイント。
const (
	pathUser    = "/auth/v1/user"
	pathSignUp  = "/auth/v1/signup"
	pathToken   = "/auth/v1/token"
	pathLogout  = "/auth/v1/logout"
	grantPasswd = "password"
	grantRefrsh = "refresh_token"
)

// Client はSupabase Authのクライアント。
// プロセスごとに1つ生成し、ハンドラーへ明示的に渡す。
type Client struct {
	http *httpclient.Client
}

// NewClient は新しいSupabase Authクライアントを生成する。
// anonKeyはapikeyヘッダーとデフォルトのAuthorizationヘッダーに使用する。
func NewClient(baseURL, anonKey string, timeout time.Duration) *Client {
	opts := []httpclient.Option{
		httpclient.WithHeader("apikey", anonKey),
		httpclient.WithHeader("Authorization", "Bearer "+anonKey),
	}
	if timeout > 0 {
		opts = append(opts, httpclient.WithTimeout(timeout))
	}
	return &Client{http: httpclient.New(baseURL, opts...)}
}

var _ middleware.TokenVerifier = (*Client)(nil)

// VerifyToken はベアラートークンを検証してユーザーを返す。
// 通信エラー、2xx以外、ユーザーIDの無いレスポンスはすべて検証失敗として扱う。
func (c *Client) VerifyToken(ctx context.Context, token string) (*middleware.Identity, error) {
	user, err := c.GetUser(ctx, token)
	if err != nil {
		return nil, err
	}
	return user.Identity(), nil
}

// GetUser はアクセストークンに対応するユーザーを取得する。
func (c *Client) GetUser(ctx context.Context, accessToken string) (*User, error) {
	if accessToken == "" {
		return nil, errors.New("アクセストークンが空です")
	}
	var user User
	if err := c.http.GetJSON(httpclient.WithBearerToken(ctx, accessToken), pathUser, &user); err != nil {
		return nil, fmt.Errorf("ユーザー取得に失敗: %w", asAPIError(err))
	}
	if user.ID == "" {
		return nil, fmt.Errorf("ユーザー取得に失敗: %w", ErrNoUser)
	}
	return &user, nil
}

// SignUpParams はサインアップの入力。
type SignUpParams struct {
	Email    string
	Password string
	// Metadata はuser_metadataとして保存される（full_name、avatar_url等）。
	Metadata map[string]any
}

// SignUp は新しいユーザーを登録する。
// メール確認が有効なプロジェクトではSessionがnilの結果を返す。
func (c *Client) SignUp(ctx context.Context, params SignUpParams) (*AuthResult, error) {
	body := map[string]any{
		"email":    params.Email,
		"password": params.Password,
	}
	if len(params.Metadata) > 0 {
		body["data"] = params.Metadata
	}

	var resp authResponse
	if err := c.http.PostJSON(ctx, pathSignUp, body, &resp); err != nil {
		return nil, fmt.Errorf("サインアップに失敗: %w", asAPIError(err))
	}
	return resp.result(), nil
}

// SignInWithPassword はメールアドレスとパスワードでサインインする。
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*AuthResult, error) {
	body := map[string]string{
		"email":    email,
		"password": password,
	}
	var resp authResponse
	if err := c.http.PostJSON(ctx, pathToken+"?grant_type="+grantPasswd, body, &resp); err != nil {
		return nil, fmt.Errorf("サインインに失敗: %w", asAPIError(err))
	}
	res := resp.result()
	if res.User == nil || res.Session == nil {
		return nil, fmt.Errorf("サインインに失敗: %w", ErrNoUser)
	}
	return res, nil
}

// RefreshSession はリフレッシュトークンで新しいセッションを取得する。
func (c *Client) RefreshSession(ctx context.Context, refreshToken string) (*AuthResult, error) {
	body := map[string]string{"refresh_token": refreshToken}
	var resp authResponse
	if err := c.http.PostJSON(ctx, pathToken+"?grant_type="+grantRefrsh, body, &resp); err != nil {
		return nil, fmt.Errorf("トークン更新に失敗: %w", asAPIError(err))
	}
	res := resp.result()
	if res.Session == nil {
		return nil, errors.New("トークン更新に失敗: レスポンスにセッションが含まれていません")
	}
	return res, nil
}

// SignOut はアクセストークンに紐づくセッションを無効化する。
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	ctx = httpclient.WithBearerToken(ctx, accessToken)
	if err := c.http.DoJSON(ctx, http.MethodPost, pathLogout, nil, nil, nil); err != nil {
		return fmt.Errorf("サインアウトに失敗: %w", asAPIError(err))
	}
	return nil
}
