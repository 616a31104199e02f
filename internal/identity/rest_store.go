package identity

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/nao1215/tutorlink/pkg/httpclient"
	"github.com/nao1215/tutorlink/pkg/middleware"
)

const pathProfiles = "/rest/v1/profiles"

// RESTProfileStore はSupabaseのPostgREST経由でprofilesテーブルを読み書きする。
//
// サービスロールキーが設定されていればそのキーで行レベルセキュリティを迂回する。
// 設定されていない場合は、コンテキストの認証済みユーザーのトークンを転送し、
// 行レベルセキュリティの下で本人のレコードだけを操作する。
type RESTProfileStore struct {
	http        *httpclient.Client
	serviceRole bool
}

var _ ProfileStore = (*RESTProfileStore)(nil)

// NewRESTProfileStore は新しいRESTProfileStoreを生成する。
// serviceRoleKeyが空の場合は呼び出し元のトークンを転送する。
func NewRESTProfileStore(baseURL, anonKey, serviceRoleKey string, timeout time.Duration) *RESTProfileStore {
	key := anonKey
	if serviceRoleKey != "" {
		key = serviceRoleKey
	}
	opts := []httpclient.Option{
		httpclient.WithHeader("apikey", key),
		httpclient.WithHeader("Authorization", "Bearer "+key),
	}
	if timeout > 0 {
		opts = append(opts, httpclient.WithTimeout(timeout))
	}
	return &RESTProfileStore{
		http:        httpclient.New(baseURL, opts...),
		serviceRole: serviceRoleKey != "",
	}
}

// authorize はリクエストに使うトークンをコンテキストに設定する。
func (s *RESTProfileStore) authorize(ctx context.Context) context.Context {
	if s.serviceRole {
		return ctx
	}
	if identity, ok := middleware.IdentityFrom(ctx); ok && identity.Token != "" {
		return httpclient.WithBearerToken(ctx, identity.Token)
	}
	return ctx
}

// GetProfile はIDに対応するプロフィールを返す。
func (s *RESTProfileStore) GetProfile(ctx context.Context, id string) (*Profile, error) {
	path := pathProfiles + "?id=eq." + url.QueryEscape(id) + "&select=*"
	var rows []Profile
	if err := s.http.GetJSON(s.authorize(ctx), path, &rows); err != nil {
		return nil, fmt.Errorf("プロフィール取得に失敗: %w", asAPIError(err))
	}
	if len(rows) == 0 {
		return nil, ErrProfileNotFound
	}
	return &rows[0], nil
}

// InsertProfile はプロフィールを作成する。
func (s *RESTProfileStore) InsertProfile(ctx context.Context, p Profile) (*Profile, error) {
	var rows []Profile
	err := s.http.DoJSON(s.authorize(ctx), http.MethodPost, pathProfiles, p, &rows, returnRepresentation())
	if err != nil {
		return nil, fmt.Errorf("プロフィール作成に失敗: %w", asAPIError(err))
	}
	if len(rows) == 0 {
		return nil, ErrEmptyResult
	}
	return &rows[0], nil
}

// UpdateProfile は指定列とupdated_atを更新する。
func (s *RESTProfileStore) UpdateProfile(ctx context.Context, id string, fields ProfileFields, updatedAt time.Time) (*Profile, error) {
	body := make(map[string]any, len(fields)+1)
	for column, v := range fields {
		body[column] = v
	}
	body[ColumnUpdatedAt] = updatedAt.UTC()

	path := pathProfiles + "?id=eq." + url.QueryEscape(id)
	var rows []Profile
	if err := s.http.DoJSON(s.authorize(ctx), http.MethodPatch, path, body, &rows, returnRepresentation()); err != nil {
		return nil, fmt.Errorf("プロフィール更新に失敗: %w", asAPIError(err))
	}
	if len(rows) == 0 {
		return nil, ErrEmptyResult
	}
	return &rows[0], nil
}

func returnRepresentation() http.Header {
	h := make(http.Header)
	h.Set("Prefer", "return=representation")
	return h
}
