// ゲートウェイサービスのエントリポイント。
// Supabaseによる認証・プロフィールとLiveKitのビデオルームをHTTP JSONで提供する。
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/nao1215/tutorlink/internal/config"
	"github.com/nao1215/tutorlink/internal/gateway"
	"github.com/nao1215/tutorlink/internal/identity"
	"github.com/nao1215/tutorlink/internal/room"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd はルートコマンドを生成する。サブコマンドなしで実行した場合はサーバーを起動する。
func newRootCmd() *cobra.Command {
	var envFile string

	root := &cobra.Command{
		Use:          "tutorlink-gateway",
		Short:        "Supabase認証とLiveKitビデオルームのHTTPゲートウェイ",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), envFile)
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "読み込む.envファイル（存在しない場合は無視）")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "HTTPサーバーを起動する",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), envFile)
		},
	})
	root.AddCommand(newTokenCmd(&envFile))
	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "SUPABASE_DB_URLのデータベースにprofilesテーブルを作成する",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return migrate(cmd.Context(), envFile)
		},
	})

	return root
}

// serve は設定を読み込み、シグナルを受けるまでHTTPサーバーを実行する。
func serve(ctx context.Context, envFile string) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("ロガーの初期化に失敗: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	auth := identity.NewClient(cfg.Supabase.URL, cfg.Supabase.AnonKey, cfg.UpstreamTimeout)

	var profiles identity.ProfileStore
	if cfg.Supabase.DatabaseURL != "" {
		pgStore, err := identity.OpenPGProfileStore(ctx, cfg.Supabase.DatabaseURL)
		if err != nil {
			return fmt.Errorf("プロフィールDBへの接続に失敗: %w", err)
		}
		defer pgStore.Close()
		profiles = pgStore
		logger.Info("プロフィールの保存先: PostgreSQL")
	} else {
		profiles = identity.NewRESTProfileStore(cfg.Supabase.URL, cfg.Supabase.AnonKey, cfg.Supabase.ServiceRoleKey, cfg.UpstreamTimeout)
		logger.Info("プロフィールの保存先: PostgREST")
	}

	rooms := room.NewClient(cfg.LiveKit.ServerURL, cfg.LiveKit.APIKey, cfg.LiveKit.APISecret, cfg.UpstreamTimeout)

	server, err := gateway.NewServer(cfg, gateway.Dependencies{
		Verifier: auth,
		Auth:     auth,
		Profiles: profiles,
		Rooms:    rooms,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("ゲートウェイの初期化に失敗: %w", err)
	}

	if err := server.Run(ctx); err != nil {
		logger.Error("ゲートウェイが異常終了しました", zap.Error(err))
		return err
	}
	return nil
}

// migrate はprofilesテーブルのマイグレーションを適用する。
func migrate(ctx context.Context, envFile string) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	if cfg.Supabase.DatabaseURL == "" {
		return errors.New("SUPABASE_DB_URLが設定されていません")
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("ロガーの初期化に失敗: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	store, err := identity.OpenPGProfileStore(ctx, cfg.Supabase.DatabaseURL)
	if err != nil {
		return fmt.Errorf("プロフィールDBへの接続に失敗: %w", err)
	}
	defer store.Close()

	applied, err := store.Migrate(ctx, logger)
	if err != nil {
		return err
	}
	logger.Info("マイグレーションが完了しました", zap.Int("applied", applied))
	return nil
}

// newTokenCmd は参加者トークンを発行するサブコマンドを生成する。動作確認用。
func newTokenCmd(envFile *string) *cobra.Command {
	var (
		roomName    string
		participant string
		role        string
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "LiveKitの参加者トークンを発行する",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*envFile)
			if err != nil {
				return err
			}
			rooms := room.NewClient(cfg.LiveKit.ServerURL, cfg.LiveKit.APIKey, cfg.LiveKit.APISecret, cfg.UpstreamTimeout)
			token, expiresAt, err := rooms.ParticipantToken(roomName, participant, room.PermissionsForRole(role))
			if err != nil {
				return fmt.Errorf("トークンの発行に失敗: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expiresAt.UTC().Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&roomName, "room", "", "ルーム名")
	cmd.Flags().StringVar(&participant, "identity", "", "参加者名")
	cmd.Flags().StringVar(&role, "role", room.RoleStudent, "ロール（student / tutor）")
	_ = cmd.MarkFlagRequired("room")
	_ = cmd.MarkFlagRequired("identity")

	return cmd
}

// newLogger は設定に応じたzapロガーを生成する。
func newLogger(cfg config.Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	zapCfg := zap.NewProductionConfig()
	if cfg.Env == config.EnvDevelopment {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("service", cfg.ServiceName)), nil
}
