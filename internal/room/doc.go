// Package room はLiveKitのRoomService（Twirp over HTTP）クライアントを提供する。
//
// サーバー間呼び出し用の管理トークンと、参加者に返すアクセストークンをHS256で署名して発行する。
// ルームのメタデータは呼び出し元が設定した任意のJSONで、LiveKit側では文字列として保存される。
package room
