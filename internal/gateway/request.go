package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/nao1215/tutorlink/internal/identity"
)

// readObject はリクエストボディを空でないJSONオブジェクトとして読み込む。
// ボディが無い、JSONとして不正、オブジェクトでない、キーが1つも無い場合はfalseを返す。
func readObject(c *gin.Context) ([]byte, map[string]json.RawMessage, bool) {
	body, err := c.GetRawData()
	if err != nil || len(bytes.TrimSpace(body)) == 0 {
		return nil, nil, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || len(fields) == 0 {
		return nil, nil, false
	}
	return body, fields, true
}

// readOptionalBody はリクエストボディを読み込む。ボディが無い場合は空のオブジェクトとして扱う。
func readOptionalBody(c *gin.Context) ([]byte, error) {
	body, err := c.GetRawData()
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return []byte("{}"), nil
	}
	return body, nil
}

// failedOn はバリデーションエラーに指定したタグの失敗が含まれるかを返す。
func failedOn(err error, tag string) bool {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return false
	}
	for _, fe := range verrs {
		if fe.Tag() == tag {
			return true
		}
	}
	return false
}

// mentions は上流のエラーメッセージに部分文字列が含まれるかを大文字小文字を区別せずに判定する。
func mentions(err error, substr string) bool {
	var apiErr *identity.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Contains(substr)
	}
	return strings.Contains(strings.ToLower(err.Error()), strings.ToLower(substr))
}

// nullable は空文字列をJSONのnullとして出力する。
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
