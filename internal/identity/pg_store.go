package identity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// profileColumns はSELECTとRETURNINGで使う列リスト。
// WHERE句ではidをキャストせずに比較し、主キーのインデックスを使う。
const profileColumns = "id::text, email, full_name, avatar_url, created_at, updated_at"

// PGProfileStore はSupabaseのPostgreSQLへ直接接続してprofilesテーブルを読み書きする。
// 接続文字列（SUPABASE_DB_URL）が設定されている場合にRESTProfileStoreの代わりに使用する。
type PGProfileStore struct {
	pool *pgxpool.Pool
}

var _ ProfileStore = (*PGProfileStore)(nil)

// OpenPGProfileStore は接続プールを作成して疎通確認を行う。
func OpenPGProfileStore(ctx context.Context, dsn string) (*PGProfileStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続プールの作成に失敗: %w", err)
	}
	store := NewPGProfileStore(pool)
	if err := store.Ping(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("データベースへの接続に失敗: %w", err)
	}
	return store, nil
}

// NewPGProfileStore は既存の接続プールからPGProfileStoreを生成する。
func NewPGProfileStore(pool *pgxpool.Pool) *PGProfileStore {
	return &PGProfileStore{pool: pool}
}

// Close は接続プールを閉じる。
func (s *PGProfileStore) Close() {
	s.pool.Close()
}

// Ping はデータベースへの疎通を確認する。
func (s *PGProfileStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// GetProfile はIDに対応するプロフィールを返す。
func (s *PGProfileStore) GetProfile(ctx context.Context, id string) (*Profile, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+profileColumns+" FROM profiles WHERE id = $1", id)
	p, err := scanProfile(row)
	if errors.Is(err, pgx.ErrNoRows) || isInvalidUUID(err) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("プロフィール取得に失敗: %w", err)
	}
	return p, nil
}

// InsertProfile はプロフィールを作成する。
func (s *PGProfileStore) InsertProfile(ctx context.Context, p Profile) (*Profile, error) {
	now := time.Now().UTC()
	createdAt, updatedAt := now, now
	if p.CreatedAt != nil {
		createdAt = p.CreatedAt.UTC()
	}
	if p.UpdatedAt != nil {
		updatedAt = p.UpdatedAt.UTC()
	}

	row := s.pool.QueryRow(ctx,
		`INSERT INTO profiles (id, email, full_name, avatar_url, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+profileColumns,
		p.ID, p.Email, p.FullName, p.AvatarURL, createdAt, updatedAt)
	saved, err := scanProfile(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrEmptyResult
	}
	if err != nil {
		return nil, fmt.Errorf("プロフィール作成に失敗: %w", err)
	}
	return saved, nil
}

// UpdateProfile は指定列とupdated_atを更新する。
// 列名は許可リストで検証済みのものだけをSQLに埋め込む。
func (s *PGProfileStore) UpdateProfile(ctx context.Context, id string, fields ProfileFields, updatedAt time.Time) (*Profile, error) {
	columns := make([]string, 0, len(fields))
	for column := range fields {
		if !isUpdatableColumn(column) {
			return nil, fmt.Errorf("更新できない列です: %s", column)
		}
		columns = append(columns, column)
	}
	sort.Strings(columns)

	sets := make([]string, 0, len(columns)+1)
	args := make([]any, 0, len(columns)+2)
	for _, column := range columns {
		args = append(args, fields[column])
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	args = append(args, updatedAt.UTC())
	sets = append(sets, fmt.Sprintf("%s = $%d", ColumnUpdatedAt, len(args)))
	args = append(args, id)

	query := fmt.Sprintf("UPDATE profiles SET %s WHERE id = $%d RETURNING %s",
		strings.Join(sets, ", "), len(args), profileColumns)
	saved, err := scanProfile(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) || isInvalidUUID(err) {
		return nil, ErrEmptyResult
	}
	if err != nil {
		return nil, fmt.Errorf("プロフィール更新に失敗: %w", err)
	}
	return saved, nil
}

func scanProfile(row pgx.Row) (*Profile, error) {
	var (
		p         Profile
		createdAt *time.Time
		updatedAt *time.Time
	)
	if err := row.Scan(&p.ID, &p.Email, &p.FullName, &p.AvatarURL, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	p.CreatedAt = createdAt
	p.UpdatedAt = updatedAt
	return &p, nil
}

// isInvalidUUID はUUIDとして解釈できないIDによるエラー（SQLSTATE 22P02）かを判定する。
// 呼び出し側では行が無い場合と同じ扱いにする。
func isInvalidUUID(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "22P02"
}

func isUpdatableColumn(column string) bool {
	for _, c := range updatableColumns {
		if c == column {
			return true
		}
	}
	return false
}
