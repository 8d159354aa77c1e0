// Package strobe は撮影用フラッシュ（ストロボLED）の制御を担う
//
// GPIO接続のLEDを実機ストロボとして駆動する実装と、
// ハードウェアなし環境用のヌル実装を提供する。
// ストロボが利用できない構成では写真出力が off 以外の
// フラッシュモードをサポートしないと報告する
package strobe

import (
	"context"
	"sync"
	"time"
)

// Strobe は撮影時のフラッシュ発光機能を提供する
type Strobe interface {
	// Available はストロボハードウェアが利用可能かを返す
	Available() bool

	// Fire はストロボを1回発光する
	Fire(ctx context.Context) error
}

// DefaultPulse はデフォルトの発光時間
const DefaultPulse = 150 * time.Millisecond

// NullStrobe はハードウェアなし環境用の実装
// 常に利用不可を報告し、発光は何もしない
type NullStrobe struct{}

// NewNullStrobe は新しいNullStrobeを作成する
func NewNullStrobe() *NullStrobe {
	return &NullStrobe{}
}

// Available は常にfalseを返す
func (n *NullStrobe) Available() bool {
	return false
}

// Fire は何もしない
func (n *NullStrobe) Fire(_ context.Context) error {
	return nil
}

// MockStrobe はテスト用のモックストロボ実装
type MockStrobe struct {
	mu sync.Mutex

	available  bool
	fireCount  int
	shouldFail bool
	failErr    error
}

// NewMockStrobe は新しいMockStrobeを作成する（初期状態は利用可能）
func NewMockStrobe() *MockStrobe {
	return &MockStrobe{available: true}
}

// Available は設定された利用可否を返す
func (m *MockStrobe) Available() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available
}

// SetAvailable はテスト用に利用可否を設定する
func (m *MockStrobe) SetAvailable(available bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.available = available
}

// Fire は発光回数を記録する
func (m *MockStrobe) Fire(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shouldFail {
		return m.failErr
	}
	m.fireCount++
	return nil
}

// FireCount は記録された発光回数を返す
func (m *MockStrobe) FireCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fireCount
}

// SetShouldFail はテスト用に発光失敗を設定する
func (m *MockStrobe) SetShouldFail(shouldFail bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shouldFail = shouldFail
	m.failErr = err
}
