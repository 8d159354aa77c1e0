package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // JPEGデコーダの登録
	"log"
	"sync"

	"satsuei/internal/authz"
)

// Controller はキャプチャセッションのライフサイクルを所有し、
// 描画用状態をHub経由で公開する
//
// セッションを変更する操作（構成・開始・停止・カメラ切替）は全て
// 単一の直列コマンドキュー上で実行され、互いに割り込まない。
// 公開状態の変更は全てHubのゴルーチンへ送られる
type Controller struct {
	session   *Session
	discovery Discovery
	creator   CapturerCreator
	output    *PhotoOutput
	library   PhotoLibrary

	cameraAuth  authz.Authorizer
	libraryAuth authz.Authorizer

	hub *Hub

	// 直列コマンドキュー
	cmdCh chan func()

	// 直列キューのゴルーチンが所有するフィールド
	// キュー外から読み書きしてはならない
	position  Position
	flashMode FlashMode

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// ControllerDeps はControllerの依存をまとめる
type ControllerDeps struct {
	Discovery   Discovery
	Creator     CapturerCreator
	Output      *PhotoOutput
	Library     PhotoLibrary
	CameraAuth  authz.Authorizer
	LibraryAuth authz.Authorizer
}

// NewController は新しいControllerを作成し、コマンドキューを開始する
func NewController(deps ControllerDeps, initialPosition Position) *Controller {
	if initialPosition == "" {
		initialPosition = PositionBack
	}

	c := &Controller{
		session:     NewSession(),
		discovery:   deps.Discovery,
		creator:     deps.Creator,
		output:      deps.Output,
		library:     deps.Library,
		cameraAuth:  deps.CameraAuth,
		libraryAuth: deps.LibraryAuth,
		hub: NewHub(UIState{
			SessionState: SessionUninitialized,
			Position:     initialPosition,
			FlashMode:    FlashOff,
		}),
		cmdCh:     make(chan func(), 16),
		position:  initialPosition,
		flashMode: FlashOff,
		done:      make(chan struct{}),
	}

	c.wg.Add(1)
	go c.runQueue()

	return c
}

// runQueue はコマンドを到着順に1つずつ実行する
func (c *Controller) runQueue() {
	defer c.wg.Done()

	for {
		select {
		case cmd := <-c.cmdCh:
			cmd()
		case <-c.done:
			return
		}
	}
}

// dispatch はコマンドを直列キューへ予約する
func (c *Controller) dispatch(cmd func()) {
	select {
	case c.cmdCh <- cmd:
	case <-c.done:
	}
}

// Session はコントローラが所有するセッションを返す
// ビューはプレビュー表示のためにセッションのフレームチャンネルを購読する
func (c *Controller) Session() *Session {
	return c.session
}

// Snapshot は現在の公開状態のスナップショットを返す
func (c *Controller) Snapshot() UIState {
	return c.hub.Snapshot()
}

// SubscribeState は公開状態の購読チャンネルと購読解除関数を返す
func (c *Controller) SubscribeState() (<-chan UIState, func()) {
	return c.hub.Subscribe()
}

// publishError はエラーを公開する。新しいエラーは表示中のエラーを上書きする
func (c *Controller) publishError(kind ErrorKind) {
	c.hub.Update(func(s *UIState) {
		s.Err = NewCaptureError(kind)
	})
}

// publishSessionState はセッション状態を公開する
func (c *Controller) publishSessionState(state SessionState) {
	c.hub.Update(func(s *UIState) {
		s.SessionState = state
	})
}

// DismissError は表示中のエラーを消去する
// ビューのアラート破棄がエラーをリセットする唯一の経路
func (c *Controller) DismissError() {
	c.hub.Update(func(s *UIState) {
		s.Err = nil
	})
}

// CheckAuthorizationAndStart はカメラ権限を確認し、許可されていれば
// セッションの構成と開始へ進む
//
// 結果は公開状態（エラーまたは稼働中セッション）として観測できる
func (c *Controller) CheckAuthorizationAndStart(ctx context.Context) {
	// ポンプの寿命はセッションが所有する。呼び出し元の取り消しでは止まらない
	ctx = context.WithoutCancel(ctx)

	c.dispatch(func() {
		switch c.cameraAuth.Status(ctx) {
		case authz.StatusAuthorized:
			c.setupSession(ctx)

		case authz.StatusNotDetermined:
			status, err := c.cameraAuth.Request(ctx)
			if err != nil || status != authz.StatusAuthorized {
				c.publishError(ErrDenied)
				return
			}
			c.setupSession(ctx)

		case authz.StatusRestricted:
			c.publishError(ErrRestricted)

		default:
			c.publishError(ErrDenied)
		}
	})
}

// setupSession はセッションを構成して開始する（直列キュー上で実行）
func (c *Controller) setupSession(ctx context.Context) {
	// 既に構成済みの場合は開始だけ行う
	if c.session.Input() != nil && c.session.Output() != nil {
		c.startSession(ctx)
		return
	}

	c.session.setState(SessionConfiguring)
	c.publishSessionState(SessionConfiguring)

	c.session.BeginConfiguration()

	device, err := c.discovery.DeviceAtPosition(ctx, c.position)
	if err != nil {
		c.session.AbortConfiguration()
		c.failSetup(fmt.Errorf("カメラの検出に失敗: %w", err))
		return
	}

	capturer, err := c.creator.CreateCapturer(*device)
	if err != nil {
		c.session.AbortConfiguration()
		c.failSetup(fmt.Errorf("キャプチャの作成に失敗: %w", err))
		return
	}

	if err := c.session.AddInput(NewInput(*device, capturer)); err != nil {
		c.session.AbortConfiguration()
		c.failSetup(fmt.Errorf("入力の接続に失敗: %w", err))
		return
	}

	if err := c.session.AddOutput(c.output); err != nil {
		c.session.AbortConfiguration()
		c.failSetup(fmt.Errorf("出力の接続に失敗: %w", err))
		return
	}

	c.session.CommitConfiguration()
	c.startSession(ctx)
}

// failSetup は構成失敗を記録して公開する
func (c *Controller) failSetup(err error) {
	log.Printf("セッションの構成に失敗: %v", err)
	c.session.setState(SessionFailed)
	c.publishSessionState(SessionFailed)
	c.publishError(ErrSetupFailed)
}

// startSession はセッションを開始する（直列キュー上で実行）
func (c *Controller) startSession(ctx context.Context) {
	if err := c.session.StartRunning(ctx); err != nil {
		c.failSetup(err)
		return
	}
	c.publishSessionState(SessionRunning)
}

// Start はセッションを開始する。既に稼働中なら何もしない（冪等）
func (c *Controller) Start(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)

	c.dispatch(func() {
		if c.session.State() == SessionRunning {
			return
		}
		if c.session.Input() == nil {
			return // 未構成
		}
		c.startSession(ctx)
	})
}

// Stop はセッションを停止する。既に停止していれば何もしない（冪等）
func (c *Controller) Stop() {
	c.dispatch(func() {
		if c.session.State() != SessionRunning {
			return
		}
		c.session.StopRunning()
		c.publishSessionState(SessionStopped)
	})
}

// CycleFlashMode はフラッシュモードを off → on → auto → off の順で切り替える
// サポート確認は撮影時にのみ行うため、ここでは検証しない
func (c *Controller) CycleFlashMode() {
	c.dispatch(func() {
		c.flashMode = c.flashMode.Next()

		mode := c.flashMode
		c.hub.Update(func(s *UIState) {
			s.FlashMode = mode
		})
	})
}

// CapturePhoto は撮影設定を作成して撮影を発行する
// 結果は完了コールバック相当の結果チャンネル経由で後から配信される
//
// 発行済みの撮影は取り消せない。呼び出し元のコンテキストが
// 取り消されても、撮影と保存は完了または失敗まで必ず進む
func (c *Controller) CapturePhoto(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)

	c.dispatch(func() {
		input := c.session.Input()
		if input == nil || c.session.Output() == nil {
			c.publishError(ErrCaptureFailed)
			return
		}

		// 現在のフラッシュモードは出力がサポートする場合のみ設定へ含める
		// 未サポートのモードは黙って省略する（エラーにはしない）
		settings := CaptureSettings{}
		if c.output.Supports(c.flashMode) {
			mode := c.flashMode
			settings.Flash = &mode
		}

		resultCh := c.output.CapturePhoto(ctx, input.Capturer(), settings)

		go c.handleCaptureResult(ctx, resultCh)
	})
}

// handleCaptureResult は撮影完了を処理する
// 完了は不特定のコンテキストで届くため、公開状態の変更は必ずHub経由で行う
func (c *Controller) handleCaptureResult(ctx context.Context, resultCh <-chan CaptureResult) {
	result := <-resultCh

	if result.Err != nil || len(result.Data) == 0 {
		if result.Err != nil {
			log.Printf("撮影に失敗: %v", result.Err)
		}
		c.publishError(ErrCaptureFailed)
		return
	}

	thumbnail, err := makeThumbnail(result.Data)
	if err != nil {
		log.Printf("サムネイルの生成に失敗: %v", err)
		c.publishError(ErrCaptureFailed)
		return
	}

	c.hub.Update(func(s *UIState) {
		s.CapturedImage = thumbnail
	})

	c.saveToPhotoLibrary(ctx, result.Data)
}

// makeThumbnail は撮影画像を表示用サムネイルへ変換する
func makeThumbnail(data []byte) (*Thumbnail, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("画像のデコードに失敗: %w", err)
	}

	return &Thumbnail{
		Data:   data,
		Width:  cfg.Width,
		Height: cfg.Height,
	}, nil
}

// saveToPhotoLibrary は撮影画像をフォトライブラリへ保存する
func (c *Controller) saveToPhotoLibrary(ctx context.Context, data []byte) {
	c.hub.Update(func(s *UIState) {
		s.IsSaving = true
	})

	defer c.hub.Update(func(s *UIState) {
		s.IsSaving = false
	})

	status := c.libraryAuth.Status(ctx)
	if status == authz.StatusNotDetermined {
		requested, err := c.libraryAuth.Request(ctx)
		if err != nil {
			c.publishError(ErrSaveFailed)
			return
		}
		status = requested
	}

	switch status {
	case authz.StatusAuthorized, authz.StatusLimited:
		if _, err := c.library.Save(ctx, data); err != nil {
			log.Printf("写真の保存に失敗: %v", err)
			c.publishError(ErrSaveFailed)
		}
	default:
		c.publishError(ErrSaveFailed)
	}
}

// SwitchCamera は反対側のカメラへ切り替える
//
// デバイス検出に失敗した場合、セッションと公開中の位置は変更されない。
// 新しい入力の接続に失敗した場合は元の入力へロールバックする
// （入力なしのセッションを残さないため）
//
// 発行済みの切替は取り消せない。再起動したポンプの寿命も
// 呼び出し元のコンテキストには縛られない
func (c *Controller) SwitchCamera(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)

	c.dispatch(func() {
		next := c.position.Opposite()

		device, err := c.discovery.DeviceAtPosition(ctx, next)
		if err != nil {
			log.Printf("カメラ切替の検出に失敗: %v", err)
			c.publishError(ErrSetupFailed)
			return
		}

		wasRunning := c.session.State() == SessionRunning

		c.session.BeginConfiguration()
		previous := c.session.RemoveInput()

		capturer, err := c.creator.CreateCapturer(*device)
		var addErr error
		if err != nil {
			addErr = err
		} else {
			addErr = c.session.AddInput(NewInput(*device, capturer))
		}

		if addErr != nil {
			// ロールバック: 元の入力を戻してからコミットする
			log.Printf("カメラ切替の入力接続に失敗: %v", addErr)
			if previous != nil {
				_ = c.session.AddInput(previous)
			}
			c.session.CommitConfiguration()
			c.publishError(ErrSetupFailed)
			return
		}

		c.session.CommitConfiguration()
		c.position = next

		position := c.position
		c.hub.Update(func(s *UIState) {
			s.Position = position
		})

		if wasRunning {
			c.session.RestartRunning(ctx)
		}
	})
}

// Close はコマンドキューとHubを停止する
// 予約済みのコマンドを実行し切ってから停止する
func (c *Controller) Close() {
	c.closeOnce.Do(func() {
		drained := make(chan struct{})
		c.dispatch(func() {
			close(drained)
		})
		<-drained

		close(c.done)
		c.wg.Wait()
		c.session.StopRunning()
		c.hub.Close()
	})
}

// sync は予約済みコマンドが全て実行されるまで待つ（テスト用）
func (c *Controller) sync() {
	doneCh := make(chan struct{})
	c.dispatch(func() {
		close(doneCh)
	})

	select {
	case <-doneCh:
	case <-c.done:
	}
}
