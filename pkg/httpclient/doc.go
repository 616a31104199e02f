// Package httpclient は外部サービスとのJSON HTTP通信を行うクライアントを提供する。
//
// Supabase（認証・プロフィール）とLiveKit（ルーム管理）の呼び出しで共通して使用する。
// 2xx以外のレスポンスは StatusError として返し、リトライは行わない。
// 呼び出し元のベアラートークンやリクエストIDはコンテキスト経由で伝播する。
package httpclient
