package capture

import (
	"context"
	"fmt"
	"sync"
)

// Input はセッションに組み込まれたカメラデバイスを表す
type Input struct {
	device   Device
	capturer FrameCapturer
}

// NewInput は新しいInputを作成する
func NewInput(device Device, capturer FrameCapturer) *Input {
	return &Input{device: device, capturer: capturer}
}

// Device は組み込まれたデバイス情報を返す
func (i *Input) Device() Device {
	return i.device
}

// Capturer はデバイスのフレームキャプチャを返す
func (i *Input) Capturer() FrameCapturer {
	return i.capturer
}

// sessionConfig はコミット単位の構成スナップショット
type sessionConfig struct {
	input  *Input
	output *PhotoOutput
}

// Session はライブパイプラインを表すキャプチャセッション
//
// 入力と出力はそれぞれ最大1つ。構成変更は必ず
// BeginConfiguration/CommitConfiguration で括られ、
// 観測者が中途半端な構成を見ることはない
type Session struct {
	mu sync.RWMutex

	committed sessionConfig
	pending   *sessionConfig // 構成変更中のみ非nil
	state     SessionState

	// プレビュー配信用。セッション生成時に一度だけ作られ、
	// ポンプの再起動をまたいで維持される
	frameChan chan []byte

	// 稼働中のポンプ制御用
	pumpStop chan struct{}
	pumpWG   sync.WaitGroup
}

// NewSession は新しいSessionを作成する
func NewSession() *Session {
	return &Session{
		state:     SessionUninitialized,
		frameChan: make(chan []byte, 10),
	}
}

// State は現在のセッション状態を返す
func (s *Session) State() SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Input はコミット済みの入力を返す（未接続ならnil）
func (s *Session) Input() *Input {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.committed.input
}

// Output はコミット済みの出力を返す（未接続ならnil）
func (s *Session) Output() *PhotoOutput {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.committed.output
}

// InputCount は接続済み入力数を返す
func (s *Session) InputCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.committed.input == nil {
		return 0
	}
	return 1
}

// OutputCount は接続済み出力数を返す
func (s *Session) OutputCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.committed.output == nil {
		return 0
	}
	return 1
}

// FrameChannel はプレビュー用フレームチャンネルを返す
// ビューはこのチャンネル経由でのみフレームを受け取る
func (s *Session) FrameChannel() <-chan []byte {
	return s.frameChan
}

// BeginConfiguration は構成変更トランザクションを開始する
func (s *Session) BeginConfiguration() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := s.committed
	s.pending = &cfg
}

// CommitConfiguration は構成変更を確定する
// 観測者は確定前の構成か確定後の構成のどちらかだけを見る
func (s *Session) CommitConfiguration() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending == nil {
		return
	}
	s.committed = *s.pending
	s.pending = nil
}

// AbortConfiguration は構成変更を破棄し、確定済み構成を維持する
func (s *Session) AbortConfiguration() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
}

// AddInput は構成変更中の入力を追加する
func (s *Session) AddInput(input *Input) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending == nil {
		return fmt.Errorf("構成変更が開始されていません")
	}
	if input == nil || input.capturer == nil {
		return fmt.Errorf("入力を追加できません: 無効な入力")
	}
	if s.pending.input != nil {
		return fmt.Errorf("入力を追加できません: 既に入力が接続されています")
	}

	s.pending.input = input
	return nil
}

// RemoveInput は構成変更中の入力を取り外し、取り外した入力を返す
func (s *Session) RemoveInput() *Input {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending == nil {
		return nil
	}
	removed := s.pending.input
	s.pending.input = nil
	return removed
}

// AddOutput は構成変更中の出力を追加する
func (s *Session) AddOutput(output *PhotoOutput) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending == nil {
		return fmt.Errorf("構成変更が開始されていません")
	}
	if output == nil {
		return fmt.Errorf("出力を追加できません: 無効な出力")
	}
	if s.pending.output != nil {
		return fmt.Errorf("出力を追加できません: 既に出力が接続されています")
	}

	s.pending.output = output
	return nil
}

// setState はセッション状態を更新する
func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

// StartRunning はプレビューポンプを開始する
// 既に稼働中の場合は何もしない（冪等）
func (s *Session) StartRunning(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == SessionRunning {
		return nil // 既に稼働中
	}
	if s.committed.input == nil {
		return fmt.Errorf("セッションを開始できません: 入力が接続されていません")
	}

	s.startPumpLocked(ctx)
	s.state = SessionRunning
	return nil
}

// StopRunning はプレビューポンプを停止する
// 既に停止している場合は何もしない（冪等）
func (s *Session) StopRunning() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SessionRunning {
		return // 既に停止している
	}

	s.stopPumpLocked()
	s.state = SessionStopped
}

// RestartRunning は入力切替後にポンプを新しい入力で再起動する
// 稼働していない場合は何もしない
func (s *Session) RestartRunning(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != SessionRunning || s.committed.input == nil {
		return
	}

	s.stopPumpLocked()
	s.startPumpLocked(ctx)
}

// startPumpLocked はロック済み前提でポンプを起動する
func (s *Session) startPumpLocked(ctx context.Context) {
	stopCh := make(chan struct{})
	s.pumpStop = stopCh

	internalFrames := make(chan []byte, 10)
	internalErrors := make(chan error, 5)

	pumpCtx, cancel := context.WithCancel(ctx)
	capturer := s.committed.input.capturer

	go capturer.StartStream(pumpCtx, internalFrames, internalErrors)

	s.pumpWG.Add(1)
	go func() {
		defer s.pumpWG.Done()
		defer cancel()

		for {
			select {
			case <-stopCh:
				return
			case <-pumpCtx.Done():
				return
			case frame, ok := <-internalFrames:
				if !ok {
					return
				}
				// フレームを転送。チャンネルがフルなら古いフレームを破棄
				select {
				case s.frameChan <- frame:
				default:
					select {
					case <-s.frameChan:
					default:
					}
					select {
					case s.frameChan <- frame:
					case <-stopCh:
						return
					}
				}
			case <-internalErrors:
				// プレビューのフレーム落ちは致命的ではないため読み捨てる
			}
		}
	}()
}

// stopPumpLocked はロック済み前提でポンプを停止する
func (s *Session) stopPumpLocked() {
	if s.pumpStop == nil {
		return
	}
	close(s.pumpStop)
	s.pumpWG.Wait()
	s.pumpStop = nil
}
