package gateway

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/tutorlink/internal/identity"
	"github.com/nao1215/tutorlink/pkg/middleware"
)

// 保存先が使えない場合にプロフィールへ添える注記。
const (
	noteDatabaseUnavailable = "Profile data from auth service (database unavailable)"
	noteNotPersisted        = "Profile could not be persisted"
)

// handleGetProfile は認証済みユーザーのプロフィールを返すハンドラを返す。
// レコードが無ければ認証情報から作成し、保存に失敗しても組み立てたプロフィールを返す。
func (s *Server) handleGetProfile() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := middleware.CurrentIdentity(c)
		if !ok || user.ID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "User ID not found"})
			return
		}
		logger := s.requestLogger(c).With(zap.String("user_id", user.ID))

		ctx, cancel := s.upstreamContext(c)
		defer cancel()

		profile, err := s.profiles.GetProfile(ctx, user.ID)
		switch {
		case err == nil:
			c.JSON(http.StatusOK, gin.H{"profile": profile})
			return
		case !errors.Is(err, identity.ErrProfileNotFound):
			logger.Error("プロフィールの取得に失敗", zap.Error(err))
			c.JSON(http.StatusOK, gin.H{
				"profile":  identity.ProfileFromIdentity(user, time.Time{}),
				"degraded": true,
				"note":     noteDatabaseUnavailable,
			})
			return
		}

		logger.Info("プロフィールが存在しないため作成します")
		synthesized := identity.ProfileFromIdentity(user, s.now())
		created, err := s.profiles.InsertProfile(ctx, synthesized)
		if err != nil {
			logger.Error("プロフィールの作成に失敗", zap.Error(err))
			c.JSON(http.StatusOK, gin.H{
				"profile":  synthesized,
				"degraded": true,
				"note":     noteNotPersisted,
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{"profile": created})
	}
}

// handleUpdateProfile は許可された列だけを更新するハンドラを返す。
// レコードが無い場合は認証情報とマージして作成する。
func (s *Server) handleUpdateProfile() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := middleware.CurrentIdentity(c)
		if !ok || user.ID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "User ID not found"})
			return
		}

		_, raw, ok := readObject(c)
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Request body required"})
			return
		}
		fields, err := identity.FilterProfileFields(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if len(fields) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "No valid fields to update"})
			return
		}
		logger := s.requestLogger(c).With(zap.String("user_id", user.ID))

		ctx, cancel := s.upstreamContext(c)
		defer cancel()

		now := s.now()
		var saved *identity.Profile
		_, err = s.profiles.GetProfile(ctx, user.ID)
		switch {
		case err == nil:
			saved, err = s.profiles.UpdateProfile(ctx, user.ID, fields, now)
		case errors.Is(err, identity.ErrProfileNotFound):
			saved, err = s.profiles.InsertProfile(ctx, identity.NewProfileWithFields(user, fields, now))
		}

		if errors.Is(err, identity.ErrEmptyResult) {
			logger.Error("プロフィールの更新結果が空です")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update profile - no data returned"})
			return
		}
		if err != nil {
			logger.Error("プロフィールの更新に失敗", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Database operation failed: " + identity.Excerpt(err)})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"message": "Profile updated successfully",
			"profile": saved,
		})
	}
}
