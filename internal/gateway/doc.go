// Package gateway はチュータリングアプリのバックエンドAPIを提供する。
//
// 認証とプロフィールはSupabase、ビデオルームはLiveKitに委譲し、このパッケージは
// リクエストの検証、外部サービスの呼び出し、結果のJSONレスポンスへの変換だけを担当する。
// ローカルに状態を持たず、外部サービスの呼び出しはリトライしない。
package gateway
