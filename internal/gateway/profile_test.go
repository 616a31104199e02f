package gateway

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/nao1215/tutorlink/internal/identity"
)

func strPtr(s string) *string {
	return &s
}

// seedProfile は既存のプロフィールを登録する。
func (e *testEnv) seedProfile(fullName string) {
	created := fixedNow.Add(-24 * time.Hour)
	e.profiles.records[testUserID] = identity.Profile{
		ID:        testUserID,
		Email:     strPtr(testEmail),
		FullName:  strPtr(fullName),
		CreatedAt: &created,
		UpdatedAt: &created,
	}
}

// TestHandleGetProfile はプロフィール取得のテスト。
func TestHandleGetProfile(t *testing.T) {
	t.Parallel()

	t.Run("既存のプロフィールを返す", func(t *testing.T) {
		t.Parallel()

		env := newTestServer(t)
		env.seedProfile("Alice Stored")

		w := env.do(t, http.MethodGet, "/profile", "", testToken)
		assertStatus(t, w, http.StatusOK)

		result := decode(t, w)
		profile := result["profile"].(map[string]any)
		if profile["id"] != testUserID {
			t.Errorf("id: got %v, want %q", profile["id"], testUserID)
		}
		if profile["full_name"] != "Alice Stored" {
			t.Errorf("full_name: got %v", profile["full_name"])
		}
		if _, ok := result["degraded"]; ok {
			t.Error("degradedが含まれている")
		}
		if env.profiles.inserts != 0 {
			t.Errorf("作成回数: got %d, want 0", env.profiles.inserts)
		}
	})

	t.Run("存在しない場合は認証情報から作成する", func(t *testing.T) {
		t.Parallel()

		env := newTestServer(t)
		w := env.do(t, http.MethodGet, "/profile", "", testToken)
		assertStatus(t, w, http.StatusOK)

		profile := decode(t, w)["profile"].(map[string]any)
		if profile["email"] != testEmail || profile["full_name"] != "Alice" {
			t.Errorf("profile: got %v", profile)
		}
		if profile["avatar_url"] != "https://example.com/alice.png" {
			t.Errorf("avatar_url: got %v", profile["avatar_url"])
		}
		if profile["created_at"] != "2026-04-01T09:30:00Z" {
			t.Errorf("created_at: got %v", profile["created_at"])
		}
		if env.profiles.inserts != 1 {
			t.Errorf("作成回数: got %d, want 1", env.profiles.inserts)
		}
		if _, ok := env.profiles.records[testUserID]; !ok {
			t.Error("プロフィールが保存されていない")
		}
	})

	t.Run("表示名が無いユーザーはnull", func(t *testing.T) {
		t.Parallel()

		env := newTestServer(t)
		w := env.do(t, http.MethodGet, "/profile", "", testNoNameToken)
		assertStatus(t, w, http.StatusOK)

		profile := decode(t, w)["profile"].(map[string]any)
		if v, ok := profile["full_name"]; !ok || v != nil {
			t.Errorf("full_name: got %v", v)
		}
	})

	t.Run("作成に失敗しても組み立てたプロフィールを返す", func(t *testing.T) {
		t.Parallel()

		env := newTestServer(t)
		env.profiles.insertErr = errors.New("permission denied for table profiles")

		w := env.do(t, http.MethodGet, "/profile", "", testToken)
		assertStatus(t, w, http.StatusOK)

		result := decode(t, w)
		if result["degraded"] != true {
			t.Errorf("degraded: got %v", result["degraded"])
		}
		if result["note"] != noteNotPersisted {
			t.Errorf("note: got %v", result["note"])
		}
		profile := result["profile"].(map[string]any)
		if profile["id"] != testUserID || profile["email"] != testEmail {
			t.Errorf("profile: got %v", profile)
		}
	})

	t.Run("取得に失敗した場合は認証情報のプロフィールを返す", func(t *testing.T) {
		t.Parallel()

		env := newTestServer(t)
		env.profiles.getErr = errors.New("connection refused")

		w := env.do(t, http.MethodGet, "/profile", "", testToken)
		assertStatus(t, w, http.StatusOK)

		result := decode(t, w)
		if result["note"] != noteDatabaseUnavailable {
			t.Errorf("note: got %v", result["note"])
		}
		profile := result["profile"].(map[string]any)
		if _, ok := profile["created_at"]; ok {
			t.Error("保存されていないプロフィールにcreated_atが含まれている")
		}
		if env.profiles.inserts != 0 {
			t.Error("取得失敗時に作成が呼ばれた")
		}
	})
}

// TestHandleUpdateProfile はプロフィール更新のテスト。
func TestHandleUpdateProfile(t *testing.T) {
	t.Parallel()

	t.Run("既存のプロフィールを更新する", func(t *testing.T) {
		t.Parallel()

		env := newTestServer(t)
		env.seedProfile("Alice")

		w := env.do(t, http.MethodPut, "/profile",
			`{"full_name":"Alice Updated","id":"someone-else","email":"evil@example.com","role":"admin"}`, testToken)
		assertStatus(t, w, http.StatusOK)

		result := decode(t, w)
		if result["message"] != "Profile updated successfully" {
			t.Errorf("message: got %v", result["message"])
		}
		profile := result["profile"].(map[string]any)
		if profile["id"] != testUserID {
			t.Errorf("id: got %v, want %q", profile["id"], testUserID)
		}
		if profile["full_name"] != "Alice Updated" || profile["email"] != testEmail {
			t.Errorf("profile: got %v", profile)
		}
		if profile["updated_at"] != "2026-04-01T09:30:00Z" {
			t.Errorf("updated_at: got %v", profile["updated_at"])
		}
		if len(env.profiles.lastFields) != 1 {
			t.Errorf("更新列: got %v", env.profiles.lastFields)
		}
		if env.profiles.inserts != 0 {
			t.Error("既存レコードに対して作成が呼ばれた")
		}
	})

	t.Run("存在しない場合は作成する", func(t *testing.T) {
		t.Parallel()

		env := newTestServer(t)
		w := env.do(t, http.MethodPut, "/profile", `{"avatar_url":"https://example.com/new.png"}`, testNoNameToken)
		assertStatus(t, w, http.StatusOK)

		profile := decode(t, w)["profile"].(map[string]any)
		if profile["avatar_url"] != "https://example.com/new.png" || profile["email"] != testEmail {
			t.Errorf("profile: got %v", profile)
		}
		if env.profiles.inserts != 1 || env.profiles.updates != 0 {
			t.Errorf("作成/更新回数: got %d/%d, want 1/0", env.profiles.inserts, env.profiles.updates)
		}
	})

	t.Run("nullで値を消去できる", func(t *testing.T) {
		t.Parallel()

		env := newTestServer(t)
		env.seedProfile("Alice")

		w := env.do(t, http.MethodPut, "/profile", `{"full_name":null}`, testToken)
		assertStatus(t, w, http.StatusOK)

		profile := decode(t, w)["profile"].(map[string]any)
		if v, ok := profile["full_name"]; !ok || v != nil {
			t.Errorf("full_name: got %v", v)
		}
	})

	t.Run("入力エラー", func(t *testing.T) {
		t.Parallel()

		tests := []struct {
			name string
			body string
			want string
		}{
			{"ボディなし", "", "Request body required"},
			{"空のオブジェクト", `{}`, "Request body required"},
			{"配列", `["full_name"]`, "Request body required"},
			{"許可された列が無い", `{"email":"evil@example.com"}`, "No valid fields to update"},
			{"文字列でない値", `{"full_name":42}`, "full_name must be a string"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				t.Parallel()

				env := newTestServer(t)
				w := env.do(t, http.MethodPut, "/profile", tt.body, testToken)
				assertStatus(t, w, http.StatusBadRequest)
				assertError(t, w, tt.want)
				if env.profiles.inserts != 0 || env.profiles.updates != 0 {
					t.Error("保存先が呼ばれた")
				}
			})
		}
	})

	t.Run("保存先のエラーは500", func(t *testing.T) {
		t.Parallel()

		env := newTestServer(t)
		env.seedProfile("Alice")
		env.profiles.updateErr = errors.New("deadlock detected")

		w := env.do(t, http.MethodPut, "/profile", `{"full_name":"x"}`, testToken)
		assertStatus(t, w, http.StatusInternalServerError)
		assertError(t, w, "Database operation failed: deadlock detected")
	})

	t.Run("更新結果が空の場合は500", func(t *testing.T) {
		t.Parallel()

		env := newTestServer(t)
		env.seedProfile("Alice")
		env.profiles.updateErr = identity.ErrEmptyResult

		w := env.do(t, http.MethodPut, "/profile", `{"full_name":"x"}`, testToken)
		assertStatus(t, w, http.StatusInternalServerError)
		assertError(t, w, "Failed to update profile - no data returned")
	})

	t.Run("取得に失敗した場合は500", func(t *testing.T) {
		t.Parallel()

		env := newTestServer(t)
		env.profiles.getErr = errors.New("connection refused")

		w := env.do(t, http.MethodPut, "/profile", `{"full_name":"x"}`, testToken)
		assertStatus(t, w, http.StatusInternalServerError)
		assertError(t, w, "Database operation failed: connection refused")
	})
}
