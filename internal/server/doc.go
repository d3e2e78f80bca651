// Package server は、操作用のHTTPサーバーを管理します。
//
// このパッケージは、HTTPサーバーの起動、ルーティング、
// ライブビューのMJPEG配信、操作画面の配信を担当します。
//
// 責務:
//   - HTTPサーバーの起動とグレースフルシャットダウン
//   - 調整パラメータとテレメトリの読み書き
//   - 走行モード、雲台、録画、プリセットの操作
//   - 処理済み映像のストリーミング配信
//
// 仕様:
//   - ルーティングにはginを使用
//   - 操作画面は埋め込みの単一HTML
//   - 複数クライアントの同時接続をサポート
package server
