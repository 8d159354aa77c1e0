// Package capture はキャプチャセッションのライフサイクル管理を担う
//
// # 責務
// - カメラ権限の確認とセッションの構成・開始・停止
// - 前面/背面カメラの切り替え
// - フラッシュモードの循環と撮影時の適用判定
// - 写真撮影と完了結果の配信
// - 撮影結果のフォトライブラリへの引き渡し
// - 描画用状態（エラー・最新撮影・保存中・位置・フラッシュ）の公開
//
// # 並行性モデル
// セッションを変更する操作は全て単一の直列コマンドキュー上で実行され、
// 構成トランザクションと競合しない。描画用状態はHubの単一ゴルーチン上で
// のみ変更され、どのコンテキストから届いた完了通知も必ずHubを経由する。
// 2つの書き込みドメインは互いに素であり、デッドロックは構造的に起きない
//
// # 前提要件
//   - ffmpeg: 画像キャプチャとストリーミングに使用
//     Ubuntu/Debian: sudo apt install ffmpeg
//   - v4l-utils: カメラ名の取得に使用
//     Ubuntu/Debian: sudo apt install v4l-utils
//   - videoグループへの参加: デバイスアクセス権限
//     sudo usermod -a -G video $USER
package capture
