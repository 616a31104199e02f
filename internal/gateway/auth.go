package gateway

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"

	"github.com/nao1215/tutorlink/internal/identity"
	"github.com/nao1215/tutorlink/pkg/middleware"
)

// signUpRequest はサインアップのリクエストボディ。
type signUpRequest struct {
	Email     string `json:"email" binding:"required,email"`
	Password  string `json:"password" binding:"required"`
	FullName  string `json:"full_name"`
	AvatarURL string `json:"avatar_url"`
}

// signInRequest はサインインのリクエストボディ。
type signInRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// refreshRequest はトークン更新のリクエストボディ。
type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// sessionJSON はクライアントに返すセッション。
func sessionJSON(session *identity.Session) gin.H {
	return gin.H{
		"access_token":  session.AccessToken,
		"refresh_token": session.RefreshToken,
	}
}

// handleSignUp はユーザー登録のハンドラを返す。
func (s *Server) handleSignUp() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := readOptionalBody(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		var req signUpRequest
		if err := binding.JSON.BindBody(body, &req); err != nil {
			switch {
			case failedOn(err, "required"):
				c.JSON(http.StatusBadRequest, gin.H{"error": "Email and password required"})
			case failedOn(err, "email"):
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid email address"})
			default:
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			}
			return
		}

		metadata := map[string]any{}
		if req.FullName != "" {
			metadata[identity.MetadataFullName] = req.FullName
		}
		if req.AvatarURL != "" {
			metadata[identity.MetadataAvatarURL] = req.AvatarURL
		}

		ctx, cancel := s.upstreamContext(c)
		defer cancel()

		res, err := s.auth.SignUp(ctx, identity.SignUpParams{
			Email:    req.Email,
			Password: req.Password,
			Metadata: metadata,
		})
		if err != nil {
			s.requestLogger(c).Warn("サインアップに失敗", zap.Error(err))
			switch {
			case mentions(err, "already registered"):
				c.JSON(http.StatusConflict, gin.H{"error": "Email already registered"})
			case mentions(err, "password"):
				c.JSON(http.StatusBadRequest, gin.H{"error": "Password does not meet requirements"})
			default:
				c.JSON(http.StatusBadRequest, gin.H{"error": "Registration failed", "details": identity.Excerpt(err)})
			}
			return
		}
		if res.User == nil || res.User.ID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "User creation failed"})
			return
		}

		// メール確認が必要な場合はセッションが発行されない
		if res.Session == nil {
			c.JSON(http.StatusAccepted, gin.H{
				"message": "Signup successful. Please check your email for confirmation.",
				"user": gin.H{
					"id":    res.User.ID,
					"email": req.Email,
				},
				"confirmation_required": true,
			})
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"message": "User created successfully",
			"user": gin.H{
				"id":         res.User.ID,
				"email":      req.Email,
				"full_name":  nullable(req.FullName),
				"avatar_url": nullable(req.AvatarURL),
			},
			"session": sessionJSON(res.Session),
		})
	}
}

// handleSignIn はメールアドレスとパスワードによるサインインのハンドラを返す。
func (s *Server) handleSignIn() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := readOptionalBody(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		var req signInRequest
		if err := binding.JSON.BindBody(body, &req); err != nil {
			if failedOn(err, "required") {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Email and password required"})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}

		ctx, cancel := s.upstreamContext(c)
		defer cancel()

		res, err := s.auth.SignInWithPassword(ctx, req.Email, req.Password)
		if err != nil {
			s.requestLogger(c).Info("サインインに失敗", zap.Error(err))
			switch {
			case mentions(err, "not confirmed"):
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Please confirm your email before signing in"})
			case mentions(err, "invalid"), mentions(err, "credentials"):
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid email or password"})
			default:
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication failed"})
			}
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"message": "Login successful",
			"user": gin.H{
				"id":         res.User.ID,
				"email":      res.User.Email,
				"full_name":  nullable(res.User.FullName()),
				"avatar_url": nullable(res.User.AvatarURL()),
			},
			"session": sessionJSON(res.Session),
		})
	}
}

// handleSignOut は呼び出し元のセッションを無効化するハンドラを返す。
// 上流の無効化に失敗しても、クライアントはトークンを破棄するため200を返す。
func (s *Server) handleSignOut() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := middleware.CurrentIdentity(c)
		if !ok || user.Token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "No active session found"})
			return
		}

		ctx, cancel := s.upstreamContext(c)
		defer cancel()

		if err := s.auth.SignOut(ctx, user.Token); err != nil {
			s.requestLogger(c).Warn("サインアウトに失敗", zap.String("user_id", user.ID), zap.Error(err))
			c.JSON(http.StatusOK, gin.H{"message": "Logout completed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "Logout successful"})
	}
}

// handleRefresh はリフレッシュトークンで新しいセッションを発行するハンドラを返す。
func (s *Server) handleRefresh() gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := readOptionalBody(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
		var req refreshRequest
		if err := binding.JSON.BindBody(body, &req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Refresh token required"})
			return
		}

		ctx, cancel := s.upstreamContext(c)
		defer cancel()

		res, err := s.auth.RefreshSession(ctx, req.RefreshToken)
		if err != nil {
			s.requestLogger(c).Info("トークン更新に失敗", zap.Error(err))
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired refresh token"})
			return
		}

		var user any
		if res.User != nil {
			user = gin.H{"id": res.User.ID, "email": res.User.Email}
		}
		c.JSON(http.StatusOK, gin.H{
			"message": "Token refreshed successfully",
			"session": sessionJSON(res.Session),
			"user":    user,
		})
	}
}
