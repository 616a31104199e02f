package identity

import (
	"context"
	"embed"

	"go.uber.org/zap"

	"github.com/nao1215/tutorlink/pkg/migration"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrate はprofilesテーブルのマイグレーションを適用し、適用した件数を返す。
// Supabaseが管理するデータベースでは既にテーブルが存在するため、自前のPostgreSQLを使う場合のみ実行する。
func (s *PGProfileStore) Migrate(ctx context.Context, logger *zap.Logger) (int, error) {
	return migration.Run(ctx, s.pool, migrationFS, "migrations", logger)
}
