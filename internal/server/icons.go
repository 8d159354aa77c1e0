package server

import (
	"satsuei/internal/capture"
)

// フラッシュモードに対応するアイコン識別子
const (
	iconFlashOff  = "bolt.slash.fill"
	iconFlashOn   = "bolt.fill"
	iconFlashAuto = "bolt.badge.automatic"
)

// FlashIcon はフラッシュモードをアイコン識別子へ変換する純粋関数
// 未知の値は安全側の off アイコンへ写す
func FlashIcon(mode capture.FlashMode) string {
	switch mode {
	case capture.FlashOn:
		return iconFlashOn
	case capture.FlashAuto:
		return iconFlashAuto
	case capture.FlashOff:
		return iconFlashOff
	default:
		return iconFlashOff
	}
}
