package capture

import (
	"context"
	"fmt"
	"log"

	"satsuei/internal/strobe"
)

// CaptureSettings は1回の撮影リクエストの設定を表す
// 撮影呼び出しごとに作成され、完了後に破棄される
type CaptureSettings struct {
	// Flash は適用するフラッシュモード
	// nil の場合はフラッシュ設定を省略する（未サポートモード時）
	Flash *FlashMode
}

// PhotoOutput はセッションに接続される写真撮影機能を表す
type PhotoOutput struct {
	strobe strobe.Strobe
}

// NewPhotoOutput は新しいPhotoOutputを作成する
func NewPhotoOutput(st strobe.Strobe) *PhotoOutput {
	return &PhotoOutput{strobe: st}
}

// SupportedFlashModes は出力がサポートするフラッシュモード一覧を返す
// ストロボが利用できない構成では off のみをサポートする
func (o *PhotoOutput) SupportedFlashModes() []FlashMode {
	if o.strobe == nil || !o.strobe.Available() {
		return []FlashMode{FlashOff}
	}
	return []FlashMode{FlashOff, FlashOn, FlashAuto}
}

// Supports は指定モードがサポートされているかを返す
func (o *PhotoOutput) Supports(mode FlashMode) bool {
	for _, m := range o.SupportedFlashModes() {
		if m == mode {
			return true
		}
	}
	return false
}

// CapturePhoto は撮影を発行し、結果を一度だけ配信するチャンネルを返す
//
// 発行後のキャンセルはできない。撮影は必ず完了または失敗まで進む
func (o *PhotoOutput) CapturePhoto(ctx context.Context, capturer FrameCapturer, settings CaptureSettings) <-chan CaptureResult {
	resultCh := make(chan CaptureResult, 1)

	go func() {
		if capturer == nil {
			resultCh <- CaptureResult{Err: fmt.Errorf("撮影できません: 入力が接続されていません")}
			return
		}

		// フラッシュ設定が含まれている場合のみストロボを発光する
		if o.strobe != nil && settings.Flash != nil && *settings.Flash != FlashOff {
			if err := o.strobe.Fire(ctx); err != nil {
				// 発光失敗は撮影自体を妨げない
				log.Printf("ストロボの発光に失敗: %v", err)
			}
		}

		data, err := capturer.CaptureFrameAsJPEG(ctx)
		if err != nil {
			resultCh <- CaptureResult{Err: fmt.Errorf("フレームキャプチャに失敗: %w", err)}
			return
		}

		resultCh <- CaptureResult{Data: data}
	}()

	return resultCh
}
