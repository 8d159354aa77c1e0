package capture

import (
	"sync"
)

// UIState はビューへ公開される描画用状態のスナップショット
// 変更はHubのゴルーチン上でのみ行われ、ビューからは読み取り専用
type UIState struct {
	SessionState  SessionState  // セッションの現在状態
	Position      Position      // 現在のカメラ位置
	FlashMode     FlashMode     // 現在のフラッシュモード
	IsSaving      bool          // 保存処理中か
	Err           *CaptureError // 表示中のエラー（nilなら非表示）
	CapturedImage *Thumbnail    // 最後に撮影した画像のサムネイル
}

// Hub は描画用状態を一元管理する状態コンテナ
//
// 全ての更新と読み出しを単一ゴルーチン上で直列に処理することで、
// どの実行コンテキストから発行された更新も競合なく適用される。
// ビューは生のフィールドではなくスナップショットを購読する
type Hub struct {
	ops chan func(*UIState)

	mu   sync.Mutex
	subs map[chan UIState]struct{}

	closeOnce sync.Once
	done      chan struct{}
}

// NewHub は初期状態を持つ新しいHubを作成し、適用ゴルーチンを開始する
func NewHub(initial UIState) *Hub {
	h := &Hub{
		ops:  make(chan func(*UIState), 16),
		subs: make(map[chan UIState]struct{}),
		done: make(chan struct{}),
	}

	go h.run(initial)
	return h
}

// run は更新を到着順に適用し、適用ごとにスナップショットを配信する
func (h *Hub) run(state UIState) {
	for {
		select {
		case op := <-h.ops:
			op(&state)
			h.broadcast(state)
		case <-h.done:
			return
		}
	}
}

// Update は状態の変更を予約する
// 変更は予約順に適用される
func (h *Hub) Update(f func(*UIState)) {
	select {
	case h.ops <- f:
	case <-h.done:
	}
}

// Snapshot は現在の状態のコピーを返す
// 先に予約された全ての更新が適用された後の状態を観測する
func (h *Hub) Snapshot() UIState {
	resultCh := make(chan UIState, 1)

	h.Update(func(s *UIState) {
		resultCh <- *s
	})

	select {
	case snapshot := <-resultCh:
		return snapshot
	case <-h.done:
		return UIState{}
	}
}

// Subscribe はスナップショット配信チャンネルと購読解除関数を返す
// 遅いクライアントは古いスナップショットを取りこぼすことがある
func (h *Hub) Subscribe() (<-chan UIState, func()) {
	ch := make(chan UIState, 8)

	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	unsub := func() {
		h.mu.Lock()
		if _, ok := h.subs[ch]; ok {
			delete(h.subs, ch)
			close(ch)
		}
		h.mu.Unlock()
	}
	return ch, unsub
}

// broadcast は全購読者へスナップショットを配信する
func (h *Hub) broadcast(state UIState) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subs {
		select {
		case ch <- state:
		default:
			// チャンネルがフルの場合は最新を優先して古い方を破棄
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- state:
			default:
			}
		}
	}
}

// Close はHubを停止する
// 予約済みの更新を適用し切ってから停止する
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		drained := make(chan struct{})
		h.Update(func(*UIState) {
			close(drained)
		})
		<-drained

		close(h.done)

		h.mu.Lock()
		for ch := range h.subs {
			delete(h.subs, ch)
			close(ch)
		}
		h.mu.Unlock()
	})
}
