package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"

	"github.com/nao1215/tutorlink/internal/room"
	"github.com/nao1215/tutorlink/pkg/middleware"
)

// ルーム作成時のデフォルト値。
const (
	defaultMaxParticipants = 2
	defaultSubject         = "General Tutoring"
	defaultTutorType       = "AI Tutor"
	sessionTypeTutoring    = "tutoring"
)

// createRoomRequest はルーム作成のリクエストボディ。
// metadataは数値の精度を保つため生のJSONのまま受け取る。
type createRoomRequest struct {
	RoomName        string          `json:"roomName"`
	MaxParticipants *int            `json:"maxParticipants"`
	Subject         string          `json:"subject"`
	TutorType       string          `json:"tutorType"`
	Metadata        json.RawMessage `json:"metadata"`
}

// generateTokenRequest は参加者トークン発行のリクエストボディ。
type generateTokenRequest struct {
	RoomName        string `json:"roomName"`
	ParticipantName string `json:"participantName"`
	Role            string `json:"role"`
}

func roomError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "error": message})
}

// handleCreateRoom はルームを作成するハンドラを返す。
func (s *Server) handleCreateRoom() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, _, ok := readObject(c)
		if !ok {
			roomError(c, http.StatusBadRequest, "Request body is required")
			return
		}
		var req createRoomRequest
		if err := binding.JSON.BindBody(body, &req); err != nil {
			roomError(c, http.StatusBadRequest, "Invalid request body")
			return
		}

		maxParticipants := defaultMaxParticipants
		if req.MaxParticipants != nil {
			if *req.MaxParticipants <= 0 {
				roomError(c, http.StatusBadRequest, "maxParticipants must be a positive integer")
				return
			}
			maxParticipants = *req.MaxParticipants
		}
		roomName := req.RoomName
		if roomName == "" {
			roomName = s.newRoomName()
		}
		subject := req.Subject
		if subject == "" {
			subject = defaultSubject
		}
		tutorType := req.TutorType
		if tutorType == "" {
			tutorType = defaultTutorType
		}

		metadata := map[string]any{}
		if len(req.Metadata) > 0 && string(req.Metadata) != "null" {
			parsed, err := room.ParseMetadata(req.Metadata)
			if err != nil {
				roomError(c, http.StatusBadRequest, "Invalid request body")
				return
			}
			metadata = parsed
		}

		// 呼び出し元のメタデータに予約キーを上書きする
		createdAt := s.timestamp()
		metadata["subject"] = subject
		metadata["tutorType"] = tutorType
		metadata["createdBy"] = middleware.GetUserID(c)
		metadata["createdAt"] = createdAt
		metadata["sessionType"] = sessionTypeTutoring

		ctx, cancel := s.upstreamContext(c)
		defer cancel()

		created, err := s.rooms.CreateRoom(ctx, room.CreateRoomParams{
			Name:            roomName,
			MaxParticipants: maxParticipants,
			Metadata:        metadata,
		})
		if err != nil {
			s.requestLogger(c).Warn("ルームの作成に失敗", zap.String("room", roomName), zap.Error(err))
			roomError(c, http.StatusBadRequest, err.Error())
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"success": true,
			"room": gin.H{
				"roomName":        roomName,
				"roomId":          created.Sid,
				"serverUrl":       s.rooms.ServerURL(),
				"maxParticipants": maxParticipants,
				"subject":         subject,
				"tutorType":       tutorType,
				"metadata":        metadata,
				"createdAt":       createdAt,
			},
			"message": "Room created successfully",
		})
	}
}

// handleGenerateToken は参加者用のアクセストークンを発行するハンドラを返す。
func (s *Server) handleGenerateToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, _, ok := readObject(c)
		if !ok {
			roomError(c, http.StatusBadRequest, "Request body is required")
			return
		}
		var req generateTokenRequest
		if err := binding.JSON.BindBody(body, &req); err != nil {
			roomError(c, http.StatusBadRequest, "Invalid request body")
			return
		}
		if req.RoomName == "" {
			roomError(c, http.StatusBadRequest, "roomName is required")
			return
		}

		user, _ := middleware.CurrentIdentity(c)
		participant := req.ParticipantName
		if participant == "" {
			participant = defaultParticipantName(user)
		}
		role := req.Role
		if role == "" {
			role = room.RoleStudent
		}

		token, expiresAt, err := s.rooms.ParticipantToken(req.RoomName, participant, room.PermissionsForRole(role))
		if err != nil {
			s.requestLogger(c).Error("アクセストークンの発行に失敗", zap.Error(err))
			roomError(c, http.StatusInternalServerError, "Failed to generate token")
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"token":   token,
			"participant": gin.H{
				"name":   participant,
				"role":   role,
				"userId": user.ID,
			},
			"room": gin.H{
				"name":      req.RoomName,
				"serverUrl": s.rooms.ServerURL(),
			},
			"expiresAt": expiresAt.Unix(),
		})
	}
}

// defaultParticipantName は表示名が無い場合に "User-" とユーザーIDの先頭8文字を使う。
func defaultParticipantName(user middleware.Identity) string {
	if name := user.MetadataString("full_name"); name != "" {
		return name
	}
	id := user.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return "User-" + id
}

// handleActiveRooms はアクティブなルームの一覧を返すハンドラを返す。
func (s *Server) handleActiveRooms() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := s.upstreamContext(c)
		defer cancel()

		rooms, err := s.rooms.ListRooms(ctx)
		if err != nil {
			s.requestLogger(c).Warn("ルーム一覧の取得に失敗", zap.Error(err))
			roomError(c, http.StatusBadRequest, err.Error())
			return
		}

		formatted := make([]gin.H, 0, len(rooms))
		for _, r := range rooms {
			formatted = append(formatted, formatRoom(r))
		}
		c.JSON(http.StatusOK, gin.H{
			"success":    true,
			"rooms":      formatted,
			"totalRooms": len(formatted),
		})
	}
}

// handleDeleteRoom はルームを終了するハンドラを返す。
// パスのIDはLiveKitが払い出したsidとルーム名のどちらでもよい。
func (s *Server) handleDeleteRoom() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		logger := s.requestLogger(c).With(zap.String("room", id))

		ctx, cancel := s.upstreamContext(c)
		defer cancel()

		rooms, err := s.rooms.ListRooms(ctx)
		if err != nil {
			logger.Warn("ルームの存在確認に失敗", zap.Error(err))
			roomError(c, http.StatusBadRequest, "Failed to verify room existence")
			return
		}
		target, found := findRoom(rooms, id)
		if !found {
			roomError(c, http.StatusNotFound, "Room not found")
			return
		}

		if err := s.rooms.DeleteRoom(ctx, target.Name); err != nil {
			logger.Warn("ルームの削除に失敗", zap.Error(err))
			roomError(c, http.StatusBadRequest, err.Error())
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"message": fmt.Sprintf("Room %s ended successfully", target.Name),
			"roomId":  id,
		})
	}
}

// handleRoomInfo はルーム名を指定してルーム情報を返すハンドラを返す。
// 取得に失敗した場合は理由にかかわらず404を返す。
func (s *Server) handleRoomInfo() gin.HandlerFunc {
	return func(c *gin.Context) {
		name := c.Param("id")

		ctx, cancel := s.upstreamContext(c)
		defer cancel()

		r, err := s.rooms.GetRoom(ctx, name)
		if errors.Is(err, room.ErrRoomNotFound) {
			roomError(c, http.StatusNotFound, "Room not found")
			return
		}
		if err != nil {
			s.requestLogger(c).Warn("ルーム情報の取得に失敗", zap.String("room", name), zap.Error(err))
			roomError(c, http.StatusNotFound, err.Error())
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"room":    formatRoom(*r),
		})
	}
}

// findRoom はsidまたはルーム名が一致する最初のルームを返す。
func findRoom(rooms []room.Room, id string) (room.Room, bool) {
	for _, r := range rooms {
		if r.Sid == id || r.Name == id {
			return r, true
		}
	}
	return room.Room{}, false
}

// formatRoom はルーム情報をクライアント向けの形式に変換する。
func formatRoom(r room.Room) gin.H {
	metadata := r.MetadataMap()
	maxParticipants := r.MaxParticipants
	if maxParticipants == 0 {
		maxParticipants = defaultMaxParticipants
	}
	return gin.H{
		"roomName":        r.Name,
		"roomId":          r.Sid,
		"numParticipants": r.NumParticipants,
		"maxParticipants": maxParticipants,
		"creationTime":    r.CreationTime,
		"subject":         valueOr(metadata, "subject", "Unknown"),
		"tutorType":       valueOr(metadata, "tutorType", defaultTutorType),
		"sessionType":     valueOr(metadata, "sessionType", sessionTypeTutoring),
		"createdBy":       metadata["createdBy"],
		"metadata":        metadata,
	}
}

func valueOr(m map[string]any, key string, def any) any {
	if v, ok := m[key]; ok && v != nil {
		return v
	}
	return def
}
