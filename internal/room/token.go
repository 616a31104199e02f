package room

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// トークンの有効期限。
const (
	// AdminTokenTTL はサーバー間呼び出し用の管理トークンの有効期限。
	AdminTokenTTL = 5 * time.Minute
	// ParticipantTokenTTL は参加者に返すアクセストークンの有効期限。
	ParticipantTokenTTL = time.Hour
)

// 参加者のロール。
const (
	RoleStudent = "student"
	RoleTutor   = "tutor"
)

// VideoGrant はLiveKitのvideoクレーム。
// 明示的なfalseを送る必要がある権限はポインターで保持する。
type VideoGrant struct {
	RoomCreate bool   `json:"roomCreate,omitempty"`
	RoomList   bool   `json:"roomList,omitempty"`
	RoomAdmin  bool   `json:"roomAdmin,omitempty"`
	RoomJoin   bool   `json:"roomJoin,omitempty"`
	Room       string `json:"room,omitempty"`

	CanPublish           *bool `json:"canPublish,omitempty"`
	CanSubscribe         *bool `json:"canSubscribe,omitempty"`
	CanPublishData       *bool `json:"canPublishData,omitempty"`
	CanUpdateOwnMetadata *bool `json:"canUpdateOwnMetadata,omitempty"`
	Hidden               *bool `json:"hidden,omitempty"`
	Recorder             *bool `json:"recorder,omitempty"`
}

// Claims はLiveKitアクセストークンのクレーム。
type Claims struct {
	jwt.RegisteredClaims
	// Name は参加者の表示名。
	Name string `json:"name,omitempty"`
	// Video はルーム操作の権限。
	Video *VideoGrant `json:"video,omitempty"`
}

// Permissions は参加者トークンに埋め込む権限。
type Permissions struct {
	CanPublish           bool
	CanSubscribe         bool
	CanPublishData       bool
	CanUpdateOwnMetadata bool
	// Hidden とRecorder はnilの場合クレームに含めない。
	Hidden   *bool
	Recorder *bool
}

// DefaultPermissions は学生（および未知のロール）の権限。
func DefaultPermissions() Permissions {
	return Permissions{
		CanPublish:           true,
		CanSubscribe:         true,
		CanPublishData:       true,
		CanUpdateOwnMetadata: true,
	}
}

// PermissionsForRole はロールに応じた権限を返す。
// 講師は非表示・録画を明示的に無効化する。未知のロールは学生と同じ権限になる。
func PermissionsForRole(role string) Permissions {
	perms := DefaultPermissions()
	if role == RoleTutor {
		perms.Hidden = boolPtr(false)
		perms.Recorder = boolPtr(false)
	}
	return perms
}

func (p Permissions) grant(roomName string) *VideoGrant {
	return &VideoGrant{
		Room:                 roomName,
		RoomJoin:             true,
		CanPublish:           boolPtr(p.CanPublish),
		CanSubscribe:         boolPtr(p.CanSubscribe),
		CanPublishData:       boolPtr(p.CanPublishData),
		CanUpdateOwnMetadata: boolPtr(p.CanUpdateOwnMetadata),
		Hidden:               p.Hidden,
		Recorder:             p.Recorder,
	}
}

// AdminToken はルーム管理APIを呼び出すための管理トークンを生成する。
// サーバー間呼び出し専用で、利用者には返さない。
func (c *Client) AdminToken() (string, error) {
	now := c.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.apiKey,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(AdminTokenTTL)),
		},
		Video: &VideoGrant{
			RoomAdmin:  true,
			RoomList:   true,
			RoomCreate: true,
		},
	}
	return c.sign(claims)
}

// ParticipantToken は1つのルームと1人の参加者に限定したアクセストークンを生成する。
// トークンと有効期限を返す。
func (c *Client) ParticipantToken(roomName, participant string, perms Permissions) (string, time.Time, error) {
	if roomName == "" {
		return "", time.Time{}, errors.New("ルーム名が空です")
	}
	if participant == "" {
		return "", time.Time{}, errors.New("参加者名が空です")
	}

	now := c.now()
	expiresAt := now.Add(ParticipantTokenTTL)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.apiKey,
			Subject:   participant,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Name:  participant,
		Video: perms.grant(roomName),
	}
	token, err := c.sign(claims)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

func (c *Client) sign(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(c.apiSecret))
	if err != nil {
		return "", fmt.Errorf("アクセストークンの署名に失敗: %w", err)
	}
	return signed, nil
}

func boolPtr(b bool) *bool {
	return &b
}
