package capture

import (
	"context"
)

// Position はカメラの取り付け位置を表す
type Position string

const (
	PositionBack  Position = "back"  // 背面カメラ
	PositionFront Position = "front" // 前面カメラ
)

// Opposite は反対側の位置を返す
func (p Position) Opposite() Position {
	if p == PositionBack {
		return PositionFront
	}
	return PositionBack
}

// FlashMode は撮影時のフラッシュ動作を表す
type FlashMode string

const (
	FlashOff  FlashMode = "off"  // フラッシュを使用しない
	FlashOn   FlashMode = "on"   // 常にフラッシュを使用する
	FlashAuto FlashMode = "auto" // 自動判定
)

// Next はフラッシュモードの循環順 (off → on → auto → off) で次のモードを返す
// 未知の値は安全側の off として扱う
func (m FlashMode) Next() FlashMode {
	switch m {
	case FlashOff:
		return FlashOn
	case FlashOn:
		return FlashAuto
	case FlashAuto:
		return FlashOff
	default:
		return FlashOn // off 扱いで循環を続ける
	}
}

// SessionState はキャプチャセッションの状態を表す
type SessionState string

const (
	SessionUninitialized SessionState = "uninitialized" // 未初期化
	SessionConfiguring   SessionState = "configuring"   // 構成変更中
	SessionRunning       SessionState = "running"       // 稼働中
	SessionStopped       SessionState = "stopped"       // 停止中
	SessionFailed        SessionState = "failed"        // 構成に失敗
)

// ErrorKind はユーザーへ提示するエラーの種別を表す
// 種別は5つで固定。再試行やローカル回復は行わない
type ErrorKind string

const (
	ErrDenied        ErrorKind = "denied"         // カメラ権限が拒否された
	ErrRestricted    ErrorKind = "restricted"     // デバイスポリシーによりカメラが使用不可
	ErrSetupFailed   ErrorKind = "setup_failed"   // セッション構成またはカメラ切替の失敗
	ErrCaptureFailed ErrorKind = "capture_failed" // 撮影パイプラインの失敗
	ErrSaveFailed    ErrorKind = "save_failed"    // フォトライブラリへの保存失敗
)

// CaptureError は種別と固定の表示メッセージを持つエラー
type CaptureError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Error は error インターフェースを実装する
func (e *CaptureError) Error() string {
	return e.Message
}

// errorMessages は種別ごとの固定メッセージ
var errorMessages = map[ErrorKind]string{
	ErrDenied:        "カメラへのアクセスが拒否されています",
	ErrRestricted:    "カメラの使用が制限されています",
	ErrSetupFailed:   "カメラの初期化に失敗しました",
	ErrCaptureFailed: "写真の撮影に失敗しました",
	ErrSaveFailed:    "写真の保存に失敗しました",
}

// NewCaptureError は種別に対応する固定メッセージ付きエラーを作成する
func NewCaptureError(kind ErrorKind) *CaptureError {
	return &CaptureError{Kind: kind, Message: errorMessages[kind]}
}

// Device はセッションに組み込まれるカメラデバイスの情報を表す
type Device struct {
	Path     string   // デバイスパス（例: /dev/video0）
	Name     string   // カメラの表示名
	Position Position // 取り付け位置
}

// Thumbnail は撮影結果から生成した表示用サムネイルを表す
type Thumbnail struct {
	Data   []byte // JPEGバイト列
	Width  int    // 画像幅
	Height int    // 画像高さ
}

// CaptureResult は1回の撮影の完了結果を表す
// 結果チャンネル経由で一度だけ配信される
type CaptureResult struct {
	Data []byte // エンコード済み画像バイト列
	Err  error  // パイプラインが報告したエラー
}

// Discovery は位置に対応するカメラデバイスの検出機能を提供する
type Discovery interface {
	// DeviceAtPosition は指定位置のカメラデバイスを検出する
	DeviceAtPosition(ctx context.Context, position Position) (*Device, error)

	// IsDeviceAvailable は指定されたデバイスが利用可能かチェックする
	IsDeviceAvailable(ctx context.Context, device string) bool
}

// FrameCapturer はデバイスからのフレーム取得機能を提供する
type FrameCapturer interface {
	// CaptureFrameAsJPEG は1フレームをキャプチャしてJPEGバイト配列として返す
	CaptureFrameAsJPEG(ctx context.Context) ([]byte, error)

	// StartStream は連続キャプチャを開始し、フレームとエラーをチャンネルへ送る
	StartStream(ctx context.Context, frameChan chan<- []byte, errorChan chan<- error)
}

// CapturerCreator はデバイスに対応するFrameCapturerを作成する
type CapturerCreator interface {
	// CreateCapturer はデバイス用のキャプチャを作成する
	CreateCapturer(device Device) (FrameCapturer, error)
}

// PhotoLibrary は撮影した写真の永続化境界を表す
// 1回のSaveでちょうど1つのアセットを作成する
type PhotoLibrary interface {
	// Save は画像バイト列からアセットを1つ作成し、そのIDを返す
	Save(ctx context.Context, data []byte) (string, error)
}
