package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/nao1215/tutorlink/pkg/httpclient"
)

var (
	// ErrProfileNotFound はプロフィールレコードが存在しないことを表す。
	ErrProfileNotFound = errors.New("プロフィールが見つかりません")
	// ErrEmptyResult は書き込み結果にレコードが含まれなかったことを表す。
	ErrEmptyResult = errors.New("書き込み結果が空です")
	// ErrNoUser は認証APIのレスポンスにユーザーが含まれなかったことを表す。
	ErrNoUser = errors.New("レスポンスにユーザーが含まれていません")
)

// APIError はSupabaseが返したエラーレスポンス。
// GoTrueのバージョンによってフィールド名が異なるため、デコード時に1つのメッセージへまとめる。
type APIError struct {
	// StatusCode はHTTPステータスコード。
	StatusCode int
	// Code はerror_code等の機械可読なコード。無い場合は空文字列。
	Code string
	// Message は人が読めるエラーメッセージ。
	Message string
}

// Error はエラーメッセージを返す。
func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("supabase: status=%d, code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("supabase: status=%d: %s", e.StatusCode, e.Message)
}

// Contains はメッセージまたはコードに部分文字列が含まれるかを大文字小文字を区別せずに判定する。
func (e *APIError) Contains(substr string) bool {
	substr = strings.ToLower(substr)
	return strings.Contains(strings.ToLower(e.Message), substr) ||
		strings.Contains(strings.ToLower(strings.ReplaceAll(e.Code, "_", " ")), substr)
}

// apiErrorBody はSupabaseのエラーレスポンスの既知のフィールド。
type apiErrorBody struct {
	Msg              string          `json:"msg"`
	Message          string          `json:"message"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
	ErrorCode        string          `json:"error_code"`
	Code             json.RawMessage `json:"code"`
}

// asAPIError はhttpclientのエラーをAPIErrorに変換する。
// ステータスエラーでない場合（通信エラー等）は元のエラーをそのまま返す。
func asAPIError(err error) error {
	var statusErr *httpclient.StatusError
	if !errors.As(err, &statusErr) {
		return err
	}

	apiErr := &APIError{StatusCode: statusErr.StatusCode}
	var body apiErrorBody
	if jsonErr := json.Unmarshal(statusErr.Body, &body); jsonErr != nil {
		apiErr.Message = statusErr.Excerpt()
		return apiErr
	}

	for _, m := range []string{body.ErrorDescription, body.Msg, body.Message, body.Error} {
		if m != "" {
			apiErr.Message = m
			break
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = statusErr.Excerpt()
	}

	apiErr.Code = body.ErrorCode
	if apiErr.Code == "" && len(body.Code) > 0 {
		// PostgRESTのcodeは文字列、GoTrueの旧形式は数値
		var s string
		if json.Unmarshal(body.Code, &s) == nil {
			apiErr.Code = s
		}
	}
	if apiErr.Code == "" && body.Error != "" && body.Error != apiErr.Message {
		apiErr.Code = body.Error
	}
	return apiErr
}

// Excerpt はクライアントに返しても問題ない短いエラー概要を返す。
func Excerpt(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	var statusErr *httpclient.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Excerpt()
	}
	return httpclient.Excerpt(err.Error())
}
