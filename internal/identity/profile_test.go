package identity

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/tutorlink/pkg/middleware"
)

func rawBody(t *testing.T, body string) map[string]json.RawMessage {
	t.Helper()
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(body), &raw); err != nil {
		t.Fatalf("ボディのデコードに失敗: %v", err)
	}
	return raw
}

func TestFilterProfileFields(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		body    string
		want    ProfileFields
		wantErr bool
	}{
		{
			name: "許可リスト外のキーは捨てる",
			body: `{"full_name":"Bob","role":"admin","id":"other"}`,
			want: ProfileFields{"full_name": "Bob"},
		},
		{
			name: "nullはNULLへの更新",
			body: `{"avatar_url":null}`,
			want: ProfileFields{"avatar_url": nil},
		},
		{
			name: "両方の列",
			body: `{"full_name":"Bob","avatar_url":"https://example.com/b.png"}`,
			want: ProfileFields{"full_name": "Bob", "avatar_url": "https://example.com/b.png"},
		},
		{
			name: "許可された列がない",
			body: `{"email":"x@example.com"}`,
			want: ProfileFields{},
		},
		{
			name:    "文字列以外の値はエラー",
			body:    `{"full_name":42}`,
			wantErr: true,
		},
		{
			name:    "オブジェクトの値はエラー",
			body:    `{"avatar_url":{"url":"x"}}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := FilterProfileFields(rawBody(t, tt.body))
			if tt.wantErr {
				if err == nil {
					t.Error("エラーが返されなかった")
				}
				return
			}
			if err != nil {
				t.Fatalf("予期しないエラー: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProfileFromIdentity(t *testing.T) {
	t.Parallel()

	user := middleware.Identity{
		ID:       "user-1",
		Email:    "a@example.com",
		Metadata: map[string]any{"full_name": "Alice"},
	}

	t.Run("タイムスタンプ付き", func(t *testing.T) {
		t.Parallel()
		now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
		p := ProfileFromIdentity(user, now)
		if p.ID != "user-1" {
			t.Errorf("ID: got %q", p.ID)
		}
		if p.Email == nil || *p.Email != "a@example.com" {
			t.Errorf("Email: got %v", p.Email)
		}
		if p.FullName == nil || *p.FullName != "Alice" {
			t.Errorf("FullName: got %v", p.FullName)
		}
		if p.AvatarURL != nil {
			t.Errorf("AvatarURL: got %q, want nil", *p.AvatarURL)
		}
		if p.CreatedAt == nil || !p.CreatedAt.Equal(now) || p.UpdatedAt == nil || !p.UpdatedAt.Equal(now) {
			t.Errorf("タイムスタンプ: got %v/%v, want %v", p.CreatedAt, p.UpdatedAt, now)
		}
	})

	t.Run("ゼロ値の時刻ではタイムスタンプを省略する", func(t *testing.T) {
		t.Parallel()
		p := ProfileFromIdentity(user, time.Time{})
		if p.CreatedAt != nil || p.UpdatedAt != nil {
			t.Errorf("タイムスタンプ: got %v/%v, want nil", p.CreatedAt, p.UpdatedAt)
		}

		b, err := json.Marshal(p)
		if err != nil {
			t.Fatalf("エンコードに失敗: %v", err)
		}
		if strings.Contains(string(b), "created_at") {
			t.Errorf("created_atが含まれる: %s", b)
		}
		if !strings.Contains(string(b), `"avatar_url":null`) {
			t.Errorf("avatar_urlがnullでない: %s", b)
		}
	})
}

func TestNewProfileWithFields(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	user := middleware.Identity{ID: "user-1", Email: "a@example.com"}
	p := NewProfileWithFields(user, ProfileFields{"full_name": "Bob", "avatar_url": nil}, now)

	if p.ID != "user-1" || p.Email == nil || *p.Email != "a@example.com" {
		t.Errorf("ID/Email: got %q/%v", p.ID, p.Email)
	}
	if p.FullName == nil || *p.FullName != "Bob" {
		t.Errorf("FullName: got %v", p.FullName)
	}
	if p.AvatarURL != nil {
		t.Errorf("AvatarURL: got %q, want nil", *p.AvatarURL)
	}
	if !p.CreatedAt.Equal(now) || !p.UpdatedAt.Equal(now) {
		t.Errorf("タイムスタンプ: got %v/%v, want %v", p.CreatedAt, p.UpdatedAt, now)
	}
}
