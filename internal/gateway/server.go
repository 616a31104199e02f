package gateway

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nao1215/tutorlink/internal/config"
	"github.com/nao1215/tutorlink/internal/identity"
	"github.com/nao1215/tutorlink/internal/room"
	"github.com/nao1215/tutorlink/pkg/httpclient"
	"github.com/nao1215/tutorlink/pkg/middleware"
)

// shutdownTimeout はグレースフルシャットダウンの待ち時間。
const shutdownTimeout = 10 * time.Second

// Authenticator はSupabase Authのサインアップ・サインイン等を行う。
type Authenticator interface {
	SignUp(ctx context.Context, params identity.SignUpParams) (*identity.AuthResult, error)
	SignInWithPassword(ctx context.Context, email, password string) (*identity.AuthResult, error)
	RefreshSession(ctx context.Context, refreshToken string) (*identity.AuthResult, error)
	SignOut(ctx context.Context, accessToken string) error
}

// RoomService はLiveKitのルーム操作とトークン発行を行う。
type RoomService interface {
	ServerURL() string
	CreateRoom(ctx context.Context, params room.CreateRoomParams) (*room.Room, error)
	ListRooms(ctx context.Context, names ...string) ([]room.Room, error)
	GetRoom(ctx context.Context, name string) (*room.Room, error)
	DeleteRoom(ctx context.Context, name string) error
	ParticipantToken(roomName, participant string, perms room.Permissions) (string, time.Time, error)
}

var (
	_ Authenticator = (*identity.Client)(nil)
	_ RoomService   = (*room.Client)(nil)
)

// Dependencies はServerが呼び出す外部サービスのクライアント。
type Dependencies struct {
	Verifier middleware.TokenVerifier
	Auth     Authenticator
	Profiles identity.ProfileStore
	Rooms    RoomService
	Logger   *zap.Logger
}

// Server はゲートウェイのHTTPサーバー。
// リクエストごとに外部サービスを1〜2回呼び出し、結果をJSONに変換して返す。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	// cfg は起動時に読み込んだ設定。
	cfg config.Config
	// logger は構造化ロガー。
	logger *zap.Logger

	verifier middleware.TokenVerifier
	auth     Authenticator
	profiles identity.ProfileStore
	rooms    RoomService

	// now は現在時刻を返す。テストで差し替える。
	now func() time.Time
	// newRoomName はルーム名が指定されなかった場合の名前を生成する。
	newRoomName func() string
}

// NewServer は新しいゲートウェイサーバーを生成する。
func NewServer(cfg config.Config, deps Dependencies) (*Server, error) {
	if deps.Verifier == nil || deps.Auth == nil || deps.Profiles == nil || deps.Rooms == nil {
		return nil, errors.New("ゲートウェイの依存関係が不足しています")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(middleware.CORS(cfg.CORSOrigins))
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(logger))

	s := &Server{
		router:      router,
		cfg:         cfg,
		logger:      logger.With(zap.String("component", "gateway")),
		verifier:    deps.Verifier,
		auth:        deps.Auth,
		profiles:    deps.Profiles,
		rooms:       deps.Rooms,
		now:         time.Now,
		newRoomName: generateRoomName,
	}
	s.setupRoutes()

	return s, nil
}

// Handler はHTTPハンドラーを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動し、ctxがキャンセルされるとグレースフルシャットダウンする。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("ゲートウェイを起動します", zap.String("addr", srv.Addr), zap.String("env", s.cfg.Env))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTPサーバーの起動に失敗: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("ゲートウェイを停止します")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTPサーバーの停止に失敗: %w", err)
	}
	return nil
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes() {
	requireAuth := middleware.Auth(s.verifier, s.logger)

	// 認証（signout以外は認証不要）
	auth := s.router.Group("/auth")
	{
		auth.POST("/signup", s.handleSignUp())
		auth.POST("/signin", s.handleSignIn())
		auth.POST("/signout", requireAuth, s.handleSignOut())
		auth.POST("/refresh", s.handleRefresh())
	}

	// プロフィール
	profile := s.router.Group("/profile", requireAuth)
	{
		profile.GET("", s.handleGetProfile())
		profile.PUT("", s.handleUpdateProfile())
	}

	// ビデオルーム。フロントエンドが使う /livekit 配下にも同じルートを登録する
	for _, prefix := range []string{"/", "/livekit"} {
		rooms := s.router.Group(prefix)
		{
			rooms.POST("/create-room", requireAuth, s.handleCreateRoom())
			rooms.POST("/generate-token", requireAuth, s.handleGenerateToken())
			rooms.GET("/active-rooms", requireAuth, s.handleActiveRooms())
			rooms.DELETE("/room/:id", requireAuth, s.handleDeleteRoom())
			rooms.GET("/room/:id/info", requireAuth, s.handleRoomInfo())
		}
	}

	// ヘルスチェック
	s.router.GET("/health", s.handleHealth())
	s.router.GET("/health/media", s.handleMediaHealth())
	s.router.GET("/livekit/health", s.handleMediaHealth())

	// デバッグ用（本番では登録しない）
	if s.cfg.Debug {
		s.router.GET("/debug/user", requireAuth, s.handleDebugUser())
	}

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Endpoint not found"})
	})
}

// upstreamContext は外部サービス呼び出し用のコンテキストを返す。
// クライアントが切断しても呼び出しを中断しないよう、リクエストのキャンセルは引き継がず
// 固定のタイムアウトだけを設定する。認証済みユーザーとリクエストIDは引き継ぐ。
func (s *Server) upstreamContext(c *gin.Context) (context.Context, context.CancelFunc) {
	ctx := context.WithoutCancel(c.Request.Context())
	ctx = httpclient.WithRequestID(ctx, middleware.GetRequestID(c))
	timeout := s.cfg.UpstreamTimeout
	if timeout <= 0 {
		timeout = httpclient.DefaultTimeout
	}
	return context.WithTimeout(ctx, timeout)
}

// requestLogger はリクエストIDを付与したロガーを返す。
func (s *Server) requestLogger(c *gin.Context) *zap.Logger {
	return s.logger.With(
		zap.String("request_id", middleware.GetRequestID(c)),
		zap.String("path", c.FullPath()),
	)
}

// timestamp はレスポンスに含める現在時刻（UTC、RFC3339）を返す。
func (s *Server) timestamp() string {
	return s.now().UTC().Format(time.RFC3339Nano)
}

// handleHealth はヘルスチェックのハンドラを返す。
func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": s.timestamp(),
			"service":   s.cfg.ServiceName,
		})
	}
}

// handleMediaHealth はLiveKitへの疎通を確認するハンドラを返す。
// ルーム一覧の取得に失敗した場合もステータスはdegradedとして200を返す。
func (s *Server) handleMediaHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := s.upstreamContext(c)
		defer cancel()

		status := "healthy"
		if _, err := s.rooms.ListRooms(ctx); err != nil {
			s.requestLogger(c).Warn("LiveKitのヘルスチェックに失敗", zap.Error(err))
			status = "degraded"
		}
		c.JSON(http.StatusOK, gin.H{
			"success":   true,
			"service":   "LiveKit Video Service",
			"status":    status,
			"serverUrl": s.rooms.ServerURL(),
			"timestamp": s.timestamp(),
		})
	}
}

// handleDebugUser は認証済みユーザーの内容を返すハンドラを返す。
func (s *Server) handleDebugUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := middleware.CurrentIdentity(c)
		if !ok {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Identity not attached"})
			return
		}
		keys := slices.Sorted(maps.Keys(user.Metadata))
		if keys == nil {
			keys = []string{}
		}
		c.JSON(http.StatusOK, gin.H{
			"user_data":     user,
			"has_id":        user.ID != "",
			"has_email":     user.Email != "",
			"metadata_keys": keys,
		})
	}
}

func generateRoomName() string {
	id := uuid.New()
	return "room-" + fmt.Sprintf("%x", id[:4])
}
