package room

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nao1215/tutorlink/pkg/httpclient"
)

// DefaultEmptyTimeout は参加者がいなくなったルームをLiveKitが閉じるまでの秒数。
const DefaultEmptyTimeout = 300

// twirpPrefix はRoomServiceのTwirpエンドポイントの接頭辞。
const twirpPrefix = "/twirp/livekit.RoomService/"

// ErrRoomNotFound は指定したルームが存在しないことを表す。
var ErrRoomNotFound = errors.New("room not found")

// OpError はRoomService呼び出しの失敗。
// Error()はクライアントに返しても問題ない "<操作>: <上流エラーの概要>" 形式。
type OpError struct {
	// Op は失敗した操作の説明。
	Op string
	// Err は元のエラー。
	Err error
}

// Error はエラーメッセージを返す。
func (e *OpError) Error() string {
	return e.Op + ": " + excerpt(e.Err)
}

// Unwrap は元のエラーを返す。
func (e *OpError) Unwrap() error {
	return e.Err
}

func excerpt(err error) string {
	var statusErr *httpclient.StatusError
	if errors.As(err, &statusErr) {
		if body := statusErr.Excerpt(); body != "" {
			return body
		}
		return fmt.Sprintf("status %d", statusErr.StatusCode)
	}
	return httpclient.Excerpt(err.Error())
}

// Client はLiveKit RoomServiceのクライアント。
// 呼び出しごとに管理トークンを生成して1回だけリクエストし、リトライしない。
type Client struct {
	http      *httpclient.Client
	apiKey    string
	apiSecret string
	serverURL string
	now       func() time.Time
}

// Option はClientの設定を変更する関数。
type Option func(*Client)

// WithClock はトークン発行に使う現在時刻の取得関数を差し替える。
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// NewClient は新しいRoomServiceクライアントを生成する。
// serverURLはクライアントに返すWebSocket URL（例: "wss://example.livekit.cloud"）で、
// APIの呼び出し先はスキームをHTTPに読み替えて決める。
func NewClient(serverURL, apiKey, apiSecret string, timeout time.Duration, opts ...Option) *Client {
	var httpOpts []httpclient.Option
	if timeout > 0 {
		httpOpts = append(httpOpts, httpclient.WithTimeout(timeout))
	}
	c := &Client{
		http:      httpclient.New(APIURL(serverURL), httpOpts...),
		apiKey:    apiKey,
		apiSecret: apiSecret,
		serverURL: serverURL,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// APIURL はWebSocket URLをRoomServiceのHTTP URLに変換する。
func APIURL(serverURL string) string {
	switch {
	case strings.HasPrefix(serverURL, "wss://"):
		return "https://" + strings.TrimPrefix(serverURL, "wss://")
	case strings.HasPrefix(serverURL, "ws://"):
		return "http://" + strings.TrimPrefix(serverURL, "ws://")
	default:
		return serverURL
	}
}

// ServerURL はクライアントが接続するWebSocket URLを返す。
func (c *Client) ServerURL() string {
	return c.serverURL
}

// CreateRoomParams はルーム作成の入力。
type CreateRoomParams struct {
	Name            string
	MaxParticipants int
	// Metadata はJSON文字列にシリアライズしてルームに保存する。
	Metadata map[string]any
}

// CreateRoom はルームを作成する。
func (c *Client) CreateRoom(ctx context.Context, params CreateRoomParams) (*Room, error) {
	const op = "Failed to create room"

	metadata := params.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return nil, &OpError{Op: op, Err: err}
	}

	body := map[string]any{
		"name":            params.Name,
		"emptyTimeout":    DefaultEmptyTimeout,
		"maxParticipants": params.MaxParticipants,
		"metadata":        string(encoded),
	}
	var room Room
	if err := c.call(ctx, "CreateRoom", body, &room); err != nil {
		return nil, &OpError{Op: op, Err: err}
	}
	if room.Name == "" {
		room.Name = params.Name
	}
	return &room, nil
}

// listRoomsResponse はListRoomsのレスポンス。
type listRoomsResponse struct {
	Rooms []Room `json:"rooms"`
}

// ListRooms はアクティブなルームを返す。namesを指定した場合はその名前のルームに限定する。
func (c *Client) ListRooms(ctx context.Context, names ...string) ([]Room, error) {
	body := map[string]any{}
	if len(names) > 0 {
		body["names"] = names
	}
	var resp listRoomsResponse
	if err := c.call(ctx, "ListRooms", body, &resp); err != nil {
		return nil, &OpError{Op: "Failed to list rooms", Err: err}
	}
	if resp.Rooms == nil {
		return []Room{}, nil
	}
	return resp.Rooms, nil
}

// GetRoom は名前を指定してルームを取得する。存在しない場合はErrRoomNotFound。
func (c *Client) GetRoom(ctx context.Context, name string) (*Room, error) {
	var resp listRoomsResponse
	if err := c.call(ctx, "ListRooms", map[string]any{"names": []string{name}}, &resp); err != nil {
		return nil, &OpError{Op: "Failed to get room info", Err: err}
	}
	if len(resp.Rooms) == 0 {
		return nil, ErrRoomNotFound
	}
	return &resp.Rooms[0], nil
}

// DeleteRoom はルームを削除し、参加者を切断する。
func (c *Client) DeleteRoom(ctx context.Context, name string) error {
	if err := c.call(ctx, "DeleteRoom", map[string]string{"room": name}, nil); err != nil {
		return &OpError{Op: "Failed to delete room", Err: err}
	}
	return nil
}

// call は管理トークンを付与してRoomServiceのメソッドを呼び出す。
func (c *Client) call(ctx context.Context, method string, body any, result any) error {
	token, err := c.AdminToken()
	if err != nil {
		return err
	}
	return c.http.PostJSON(httpclient.WithBearerToken(ctx, token), twirpPrefix+method, body, result)
}
