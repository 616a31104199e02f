// Package middleware はGinベースのHTTP APIで使用する共通ミドルウェアを提供する。
//
// ベアラートークンによる認証ゲート、リクエストID付与、アクセスログ、
// パニックリカバリ、CORS設定を含む。
package middleware
