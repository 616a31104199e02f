// Package identity はSupabase（GoTrue認証APIとprofilesテーブル）へのクライアントを提供する。
//
// ベアラートークンの検証、サインアップ・サインイン・トークン更新・サインアウトと、
// プロフィールレコードの読み書きを行う。外部サービスのレスポンスはこのパッケージの境界で
// 明示的な型にデコードし、呼び出し元がレスポンス形状で分岐しなくて済むようにする。
// ユーザー情報はこのサービス内に保存しない。
package identity
