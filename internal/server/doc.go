// Package server は、コントローラ状態の描画とユーザー操作の転送を担当します。
//
// このパッケージは、ライブビューファインダーの配信、公開状態の描画、
// 撮影・カメラ切替・フラッシュ切替コマンドの転送を担当します。
//
// 責務:
//   - HTTPサーバーの起動と管理
//   - ライブプレビュー（MJPEG）の配信（セッションハンドルの橋渡しのみ）
//   - 公開状態のスナップショット配信（SSE）
//   - 最新撮影サムネイルとアセットの配信
//   - コマンド（撮影・切替・フラッシュ・エラー消去）の転送
//   - 静的ファイル（HTML/CSS/JS）の配信
//
// 仕様:
//   - gin-gonic/ginを使用
//   - 起動時に権限確認とセッション開始、終了時にセッション停止を発行
//   - グレースフルシャットダウンに対応
//   - 複数クライアントの同時接続をサポート
package server
