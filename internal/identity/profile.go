package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nao1215/tutorlink/pkg/middleware"
)

// プロフィールの列名。
const (
	ColumnFullName  = "full_name"
	ColumnAvatarURL = "avatar_url"
	ColumnUpdatedAt = "updated_at"
)

// updatableColumns はクライアントが更新できる列の許可リスト。
var updatableColumns = []string{ColumnFullName, ColumnAvatarURL}

// Profile はprofilesテーブルのレコード。
type Profile struct {
	ID        string     `json:"id"`
	Email     *string    `json:"email"`
	FullName  *string    `json:"full_name"`
	AvatarURL *string    `json:"avatar_url"`
	CreatedAt *time.Time `json:"created_at,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// ProfileFromIdentity は認証済みユーザーの情報からプロフィールを組み立てる。
// nowがゼロ値の場合はタイムスタンプを設定しない。
func ProfileFromIdentity(identity middleware.Identity, now time.Time) Profile {
	p := Profile{
		ID:        identity.ID,
		Email:     optional(identity.Email),
		FullName:  optional(identity.MetadataString(MetadataFullName)),
		AvatarURL: optional(identity.MetadataString(MetadataAvatarURL)),
	}
	if !now.IsZero() {
		ts := now.UTC()
		p.CreatedAt = &ts
		p.UpdatedAt = &ts
	}
	return p
}

// ProfileFields は更新するプロフィール列と値。値はstringまたはnil（NULLへの更新）。
type ProfileFields map[string]any

// FilterProfileFields はリクエストボディから許可リストの列だけを取り出す。
// 許可リスト外のキーは黙って捨てる。許可された列の値が文字列でもnullでもない場合はエラー。
func FilterProfileFields(raw map[string]json.RawMessage) (ProfileFields, error) {
	fields := make(ProfileFields)
	for _, column := range updatableColumns {
		v, ok := raw[column]
		if !ok {
			continue
		}
		var s *string
		if err := json.Unmarshal(v, &s); err != nil {
			return nil, fmt.Errorf("%s must be a string", column)
		}
		if s == nil {
			fields[column] = nil
		} else {
			fields[column] = *s
		}
	}
	return fields, nil
}

// apply は更新内容をプロフィールに反映する。
func (f ProfileFields) apply(p *Profile) {
	for column, v := range f {
		var value *string
		if s, ok := v.(string); ok {
			value = &s
		}
		switch column {
		case ColumnFullName:
			p.FullName = value
		case ColumnAvatarURL:
			p.AvatarURL = value
		}
	}
}

// NewProfileWithFields は既存レコードが無い場合に作成するプロフィールを組み立てる。
// 認証済みユーザーのIDとメールアドレスに更新内容をマージする。
func NewProfileWithFields(identity middleware.Identity, fields ProfileFields, now time.Time) Profile {
	ts := now.UTC()
	p := Profile{
		ID:        identity.ID,
		Email:     optional(identity.Email),
		CreatedAt: &ts,
		UpdatedAt: &ts,
	}
	fields.apply(&p)
	return p
}

// ProfileStore はプロフィールレコードの保存先。
// 書き込みはそれぞれ1回の非トランザクションな呼び出しで、同時更新は後勝ちになる。
type ProfileStore interface {
	// GetProfile はIDに対応するプロフィールを返す。存在しない場合はErrProfileNotFound。
	GetProfile(ctx context.Context, id string) (*Profile, error)
	// InsertProfile はプロフィールを作成し、保存されたレコードを返す。
	InsertProfile(ctx context.Context, p Profile) (*Profile, error)
	// UpdateProfile は指定列とupdated_atを更新し、更新後のレコードを返す。
	UpdateProfile(ctx context.Context, id string, fields ProfileFields, updatedAt time.Time) (*Profile, error)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
