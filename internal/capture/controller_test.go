package capture

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"satsuei/internal/authz"
	"satsuei/internal/strobe"
)

// mockPhotoLibrary はテスト用のフォトライブラリ実装
type mockPhotoLibrary struct {
	mu sync.Mutex

	saveCount  int
	shouldFail bool
}

func (m *mockPhotoLibrary) Save(_ context.Context, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shouldFail {
		return "", fmt.Errorf("モック: 保存に失敗")
	}
	if len(data) == 0 {
		return "", fmt.Errorf("モック: 画像データが空です")
	}
	m.saveCount++
	return fmt.Sprintf("asset-%d", m.saveCount), nil
}

func (m *mockPhotoLibrary) SaveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveCount
}

func (m *mockPhotoLibrary) SetShouldFail(shouldFail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shouldFail = shouldFail
}

// testFixture はコントローラテスト用の依存一式
type testFixture struct {
	controller *Controller
	discovery  *MockDiscovery
	creator    *MockCapturerCreator
	strobe     *strobe.MockStrobe
	library    *mockPhotoLibrary
	camera     *authz.MockAuthorizer
	libAuth    *authz.MockAuthorizer
}

// newTestFixture は全てモックのコントローラを組み立てる
func newTestFixture(cameraStatus, libraryStatus authz.Status) *testFixture {
	discovery := NewMockDiscovery(map[Position]string{
		PositionBack:  "/dev/video0",
		PositionFront: "/dev/video2",
	})
	creator := NewMockCapturerCreator()
	mockStrobe := strobe.NewMockStrobe()
	photoLibrary := &mockPhotoLibrary{}
	cameraAuth := authz.NewMockAuthorizer(cameraStatus)
	libraryAuth := authz.NewMockAuthorizer(libraryStatus)

	controller := NewController(ControllerDeps{
		Discovery:   discovery,
		Creator:     creator,
		Output:      NewPhotoOutput(mockStrobe),
		Library:     photoLibrary,
		CameraAuth:  cameraAuth,
		LibraryAuth: libraryAuth,
	}, PositionBack)

	return &testFixture{
		controller: controller,
		discovery:  discovery,
		creator:    creator,
		strobe:     mockStrobe,
		library:    photoLibrary,
		camera:     cameraAuth,
		libAuth:    libraryAuth,
	}
}

// waitForState は公開状態が条件を満たすまで待つ
func waitForState(t *testing.T, c *Controller, describe string, cond func(UIState) bool) UIState {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		state := c.Snapshot()
		if cond(state) {
			return state
		}
		time.Sleep(5 * time.Millisecond)
	}

	t.Fatalf("状態が条件を満たしませんでした: %s (最終状態: %+v)", describe, c.Snapshot())
	return UIState{}
}

func TestController_AuthorizedStart(t *testing.T) {
	ctx := context.Background()
	f := newTestFixture(authz.StatusAuthorized, authz.StatusAuthorized)
	defer f.controller.Close()

	f.controller.CheckAuthorizationAndStart(ctx)
	f.controller.sync()

	state := f.controller.Snapshot()
	if state.SessionState != SessionRunning {
		t.Fatalf("SessionState = %s, want %s", state.SessionState, SessionRunning)
	}
	if state.Err != nil {
		t.Fatalf("Err = %+v, want nil", state.Err)
	}

	// 構成後は入力と出力がちょうど1つずつ
	session := f.controller.Session()
	if session.InputCount() != 1 {
		t.Errorf("InputCount = %d, want 1", session.InputCount())
	}
	if session.OutputCount() != 1 {
		t.Errorf("OutputCount = %d, want 1", session.OutputCount())
	}
}

func TestController_NotDeterminedThenGranted(t *testing.T) {
	ctx := context.Background()
	f := newTestFixture(authz.StatusNotDetermined, authz.StatusAuthorized)
	defer f.controller.Close()

	f.camera.SetRequestResult(authz.StatusAuthorized)

	f.controller.CheckAuthorizationAndStart(ctx)
	f.controller.sync()

	if f.camera.RequestCount() != 1 {
		t.Errorf("RequestCount = %d, want 1", f.camera.RequestCount())
	}

	state := f.controller.Snapshot()
	if state.SessionState != SessionRunning {
		t.Fatalf("SessionState = %s, want %s", state.SessionState, SessionRunning)
	}
	if state.Err != nil {
		t.Fatalf("Err = %+v, want nil", state.Err)
	}
}

func TestController_NotDeterminedThenDenied(t *testing.T) {
	ctx := context.Background()
	f := newTestFixture(authz.StatusNotDetermined, authz.StatusAuthorized)
	defer f.controller.Close()

	f.camera.SetRequestResult(authz.StatusDenied)

	f.controller.CheckAuthorizationAndStart(ctx)
	f.controller.sync()

	state := f.controller.Snapshot()
	if state.Err == nil || state.Err.Kind != ErrDenied {
		t.Fatalf("Err = %+v, want %s", state.Err, ErrDenied)
	}
	if state.SessionState == SessionRunning {
		t.Error("拒否されたのにセッションが稼働しています")
	}
}

func TestController_DeniedAndRestricted(t *testing.T) {
	testCases := []struct {
		name   string
		status authz.Status
		want   ErrorKind
	}{
		{"拒否済み", authz.StatusDenied, ErrDenied},
		{"ポリシー制限", authz.StatusRestricted, ErrRestricted},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			f := newTestFixture(tc.status, authz.StatusAuthorized)
			defer f.controller.Close()

			f.controller.CheckAuthorizationAndStart(ctx)
			f.controller.sync()

			state := f.controller.Snapshot()
			if state.Err == nil || state.Err.Kind != tc.want {
				t.Fatalf("Err = %+v, want %s", state.Err, tc.want)
			}
			if state.SessionState == SessionRunning {
				t.Error("権限がないのにセッションが稼働しています")
			}
			if f.controller.Session().InputCount() != 0 {
				t.Error("権限がないのに入力が接続されています")
			}
		})
	}
}

func TestController_SetupFailurePublishesError(t *testing.T) {
	ctx := context.Background()
	f := newTestFixture(authz.StatusAuthorized, authz.StatusAuthorized)
	defer f.controller.Close()

	// 背面カメラを利用不可にして構成を失敗させる
	f.discovery.SetUnavailable(PositionBack, true)

	f.controller.CheckAuthorizationAndStart(ctx)
	f.controller.sync()

	state := f.controller.Snapshot()
	if state.Err == nil || state.Err.Kind != ErrSetupFailed {
		t.Fatalf("Err = %+v, want %s", state.Err, ErrSetupFailed)
	}
	if state.SessionState != SessionFailed {
		t.Errorf("SessionState = %s, want %s", state.SessionState, SessionFailed)
	}
	if f.controller.Session().InputCount() != 0 {
		t.Error("構成失敗後に入力が残っています")
	}
}

func TestController_StartStopIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newTestFixture(authz.StatusAuthorized, authz.StatusAuthorized)
	defer f.controller.Close()

	f.controller.CheckAuthorizationAndStart(ctx)
	f.controller.sync()

	// 稼働中のStartは何もしない
	f.controller.Start(ctx)
	f.controller.sync()
	if got := f.controller.Session().State(); got != SessionRunning {
		t.Fatalf("State = %s, want %s", got, SessionRunning)
	}

	f.controller.Stop()
	f.controller.sync()
	if got := f.controller.Session().State(); got != SessionStopped {
		t.Fatalf("State = %s, want %s", got, SessionStopped)
	}

	// 停止中のStopは何もしない
	f.controller.Stop()
	f.controller.sync()
	if got := f.controller.Session().State(); got != SessionStopped {
		t.Fatalf("State = %s, want %s", got, SessionStopped)
	}

	// 再開できる
	f.controller.Start(ctx)
	f.controller.sync()
	if got := f.controller.Session().State(); got != SessionRunning {
		t.Fatalf("State = %s, want %s", got, SessionRunning)
	}
}

func TestController_CycleFlashMode(t *testing.T) {
	f := newTestFixture(authz.StatusAuthorized, authz.StatusAuthorized)
	defer f.controller.Close()

	expected := []FlashMode{FlashOn, FlashAuto, FlashOff}
	for _, want := range expected {
		f.controller.CycleFlashMode()
		f.controller.sync()

		state := waitForState(t, f.controller, "フラッシュモードの更新", func(s UIState) bool {
			return s.FlashMode == want
		})
		if state.FlashMode != want {
			t.Fatalf("FlashMode = %s, want %s", state.FlashMode, want)
		}
	}
}

func TestController_CaptureSuccessSavesToLibrary(t *testing.T) {
	ctx := context.Background()
	f := newTestFixture(authz.StatusAuthorized, authz.StatusAuthorized)
	defer f.controller.Close()

	f.controller.CheckAuthorizationAndStart(ctx)
	f.controller.sync()

	f.controller.CapturePhoto(ctx)

	// 撮影画像が公開され、保存が1回行われる
	state := waitForState(t, f.controller, "撮影画像の公開", func(s UIState) bool {
		return s.CapturedImage != nil
	})
	if state.CapturedImage.Width != 8 || state.CapturedImage.Height != 8 {
		t.Errorf("サムネイルサイズ = %dx%d, want 8x8", state.CapturedImage.Width, state.CapturedImage.Height)
	}

	waitForState(t, f.controller, "保存の完了", func(s UIState) bool {
		return !s.IsSaving
	})

	if f.library.SaveCount() != 1 {
		t.Errorf("SaveCount = %d, want 1", f.library.SaveCount())
	}

	finalState := f.controller.Snapshot()
	if finalState.Err != nil {
		t.Errorf("Err = %+v, want nil", finalState.Err)
	}
}

func TestController_CaptureFailure(t *testing.T) {
	ctx := context.Background()
	f := newTestFixture(authz.StatusAuthorized, authz.StatusAuthorized)
	defer f.controller.Close()

	f.controller.CheckAuthorizationAndStart(ctx)
	f.controller.sync()

	capturer, ok := f.creator.Capturer("/dev/video0")
	if !ok {
		t.Fatal("モックキャプチャが見つかりません")
	}
	capturer.SetShouldFailCapture(true)

	f.controller.CapturePhoto(ctx)

	// エラーが公開され、撮影画像は変化せず、保存は呼ばれない
	state := waitForState(t, f.controller, "撮影失敗エラーの公開", func(s UIState) bool {
		return s.Err != nil
	})
	if state.Err.Kind != ErrCaptureFailed {
		t.Fatalf("Err = %s, want %s", state.Err.Kind, ErrCaptureFailed)
	}
	if state.CapturedImage != nil {
		t.Error("撮影失敗なのにCapturedImageが設定されています")
	}
	if f.library.SaveCount() != 0 {
		t.Errorf("SaveCount = %d, want 0", f.library.SaveCount())
	}
}

func TestController_CaptureEmptyFrameFails(t *testing.T) {
	ctx := context.Background()
	f := newTestFixture(authz.StatusAuthorized, authz.StatusAuthorized)
	defer f.controller.Close()

	f.controller.CheckAuthorizationAndStart(ctx)
	f.controller.sync()

	capturer, ok := f.creator.Capturer("/dev/video0")
	if !ok {
		t.Fatal("モックキャプチャが見つかりません")
	}
	capturer.SetEmptyFrame(true)

	f.controller.CapturePhoto(ctx)

	state := waitForState(t, f.controller, "空フレームエラーの公開", func(s UIState) bool {
		return s.Err != nil
	})
	if state.Err.Kind != ErrCaptureFailed {
		t.Fatalf("Err = %s, want %s", state.Err.Kind, ErrCaptureFailed)
	}
	if f.library.SaveCount() != 0 {
		t.Errorf("SaveCount = %d, want 0", f.library.SaveCount())
	}
}

func TestController_UnsupportedFlashOmitted(t *testing.T) {
	ctx := context.Background()
	f := newTestFixture(authz.StatusAuthorized, authz.StatusAuthorized)
	defer f.controller.Close()

	// ストロボを利用不可にするとonはサポート外になる
	f.strobe.SetAvailable(false)

	f.controller.CheckAuthorizationAndStart(ctx)
	f.controller.sync()

	// フラッシュをonへ切り替えてから撮影
	f.controller.CycleFlashMode()
	f.controller.sync()

	f.controller.CapturePhoto(ctx)

	waitForState(t, f.controller, "撮影の完了", func(s UIState) bool {
		return s.CapturedImage != nil && !s.IsSaving
	})

	// サポート外のモードは黙って省略され、エラーにも発光にもならない
	if f.strobe.FireCount() != 0 {
		t.Errorf("FireCount = %d, want 0", f.strobe.FireCount())
	}
	if state := f.controller.Snapshot(); state.Err != nil {
		t.Errorf("Err = %+v, want nil", state.Err)
	}
}

func TestController_SupportedFlashFires(t *testing.T) {
	ctx := context.Background()
	f := newTestFixture(authz.StatusAuthorized, authz.StatusAuthorized)
	defer f.controller.Close()

	f.controller.CheckAuthorizationAndStart(ctx)
	f.controller.sync()

	f.controller.CycleFlashMode() // off → on
	f.controller.sync()

	f.controller.CapturePhoto(ctx)

	waitForState(t, f.controller, "撮影の完了", func(s UIState) bool {
		return s.CapturedImage != nil && !s.IsSaving
	})

	if f.strobe.FireCount() != 1 {
		t.Errorf("FireCount = %d, want 1", f.strobe.FireCount())
	}
}

func TestController_SaveDenied(t *testing.T) {
	ctx := context.Background()
	f := newTestFixture(authz.StatusAuthorized, authz.StatusDenied)
	defer f.controller.Close()

	f.controller.CheckAuthorizationAndStart(ctx)
	f.controller.sync()

	f.controller.CapturePhoto(ctx)

	// 撮影画像は公開されるが、保存は拒否される
	state := waitForState(t, f.controller, "保存拒否エラーの公開", func(s UIState) bool {
		return s.Err != nil && !s.IsSaving
	})
	if state.Err.Kind != ErrSaveFailed {
		t.Fatalf("Err = %s, want %s", state.Err.Kind, ErrSaveFailed)
	}
	if state.CapturedImage == nil {
		t.Error("保存拒否でもCapturedImageは設定されるべきです")
	}
	if f.library.SaveCount() != 0 {
		t.Errorf("SaveCount = %d, want 0", f.library.SaveCount())
	}
}

func TestController_SaveNotDeterminedThenGranted(t *testing.T) {
	ctx := context.Background()
	f := newTestFixture(authz.StatusAuthorized, authz.StatusNotDetermined)
	defer f.controller.Close()

	f.libAuth.SetRequestResult(authz.StatusLimited)

	f.controller.CheckAuthorizationAndStart(ctx)
	f.controller.sync()

	f.controller.CapturePhoto(ctx)

	waitForState(t, f.controller, "保存の完了", func(s UIState) bool {
		return s.CapturedImage != nil && !s.IsSaving
	})

	// limitedでも保存は行われる
	if f.library.SaveCount() != 1 {
		t.Errorf("SaveCount = %d, want 1", f.library.SaveCount())
	}
	if f.libAuth.RequestCount() != 1 {
		t.Errorf("RequestCount = %d, want 1", f.libAuth.RequestCount())
	}
}

func TestController_SaveFailure(t *testing.T) {
	ctx := context.Background()
	f := newTestFixture(authz.StatusAuthorized, authz.StatusAuthorized)
	defer f.controller.Close()

	f.library.SetShouldFail(true)

	f.controller.CheckAuthorizationAndStart(ctx)
	f.controller.sync()

	f.controller.CapturePhoto(ctx)

	state := waitForState(t, f.controller, "保存失敗エラーの公開", func(s UIState) bool {
		return s.Err != nil && !s.IsSaving
	})
	if state.Err.Kind != ErrSaveFailed {
		t.Fatalf("Err = %s, want %s", state.Err.Kind, ErrSaveFailed)
	}
}

func TestController_SwitchCamera(t *testing.T) {
	ctx := context.Background()
	f := newTestFixture(authz.StatusAuthorized, authz.StatusAuthorized)
	defer f.controller.Close()

	f.controller.CheckAuthorizationAndStart(ctx)
	f.controller.sync()

	f.controller.SwitchCamera(ctx)
	f.controller.sync()

	state := waitForState(t, f.controller, "位置の更新", func(s UIState) bool {
		return s.Position == PositionFront
	})
	if state.Err != nil {
		t.Errorf("Err = %+v, want nil", state.Err)
	}

	session := f.controller.Session()
	if session.InputCount() != 1 {
		t.Fatalf("InputCount = %d, want 1", session.InputCount())
	}
	if got := session.Input().Device().Path; got != "/dev/video2" {
		t.Errorf("入力デバイス = %s, want /dev/video2", got)
	}

	// 切替は稼働状態を変えない
	if got := session.State(); got != SessionRunning {
		t.Errorf("State = %s, want %s", got, SessionRunning)
	}
}

func TestController_SwitchCameraDiscoveryFailure(t *testing.T) {
	ctx := context.Background()
	f := newTestFixture(authz.StatusAuthorized, authz.StatusAuthorized)
	defer f.controller.Close()

	f.controller.CheckAuthorizationAndStart(ctx)
	f.controller.sync()

	// 前面カメラを利用不可にして検出を失敗させる
	f.discovery.SetUnavailable(PositionFront, true)

	f.controller.SwitchCamera(ctx)
	f.controller.sync()

	state := waitForState(t, f.controller, "切替失敗エラーの公開", func(s UIState) bool {
		return s.Err != nil
	})
	if state.Err.Kind != ErrSetupFailed {
		t.Fatalf("Err = %s, want %s", state.Err.Kind, ErrSetupFailed)
	}

	// 位置と入力は変更されない
	if state.Position != PositionBack {
		t.Errorf("Position = %s, want %s", state.Position, PositionBack)
	}
	session := f.controller.Session()
	if session.InputCount() != 1 {
		t.Fatalf("InputCount = %d, want 1", session.InputCount())
	}
	if got := session.Input().Device().Path; got != "/dev/video0" {
		t.Errorf("入力デバイス = %s, want /dev/video0", got)
	}
}

func TestController_SwitchCameraAddFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	f := newTestFixture(authz.StatusAuthorized, authz.StatusAuthorized)
	defer f.controller.Close()

	f.controller.CheckAuthorizationAndStart(ctx)
	f.controller.sync()

	// 新しい入力の作成を失敗させる（検出は成功する）
	f.creator.SetShouldFailCreate(true)

	f.controller.SwitchCamera(ctx)
	f.controller.sync()

	state := waitForState(t, f.controller, "切替失敗エラーの公開", func(s UIState) bool {
		return s.Err != nil
	})
	if state.Err.Kind != ErrSetupFailed {
		t.Fatalf("Err = %s, want %s", state.Err.Kind, ErrSetupFailed)
	}

	// 元の入力へロールバックされ、入力なしのセッションは残らない
	if state.Position != PositionBack {
		t.Errorf("Position = %s, want %s", state.Position, PositionBack)
	}
	session := f.controller.Session()
	if session.InputCount() != 1 {
		t.Fatalf("InputCount = %d, want 1", session.InputCount())
	}
	if got := session.Input().Device().Path; got != "/dev/video0" {
		t.Errorf("入力デバイス = %s, want /dev/video0", got)
	}
}

func TestController_SwitchCameraTwiceReturnsToBack(t *testing.T) {
	ctx := context.Background()
	f := newTestFixture(authz.StatusAuthorized, authz.StatusAuthorized)
	defer f.controller.Close()

	f.controller.CheckAuthorizationAndStart(ctx)
	f.controller.sync()

	f.controller.SwitchCamera(ctx)
	f.controller.SwitchCamera(ctx)
	f.controller.sync()

	// 2回の切替で背面へ戻り、入力はちょうど1つ
	state := waitForState(t, f.controller, "位置の更新", func(s UIState) bool {
		return s.Position == PositionBack
	})
	if state.Err != nil {
		t.Errorf("Err = %+v, want nil", state.Err)
	}

	session := f.controller.Session()
	if session.InputCount() != 1 {
		t.Fatalf("InputCount = %d, want 1", session.InputCount())
	}
	if got := session.Input().Device().Path; got != "/dev/video0" {
		t.Errorf("入力デバイス = %s, want /dev/video0", got)
	}
}

func TestController_CaptureRunsToCompletionAfterCallerCancel(t *testing.T) {
	f := newTestFixture(authz.StatusAuthorized, authz.StatusAuthorized)
	defer f.controller.Close()

	f.controller.CheckAuthorizationAndStart(context.Background())
	f.controller.sync()

	// HTTPハンドラ相当: リクエストコンテキストは発行の直後に取り消される
	reqCtx, cancel := context.WithCancel(context.Background())
	f.controller.CapturePhoto(reqCtx)
	cancel()

	// 取り消されても撮影と保存は完了まで進む
	state := waitForState(t, f.controller, "撮影と保存の完了", func(s UIState) bool {
		return s.CapturedImage != nil && !s.IsSaving
	})
	if state.Err != nil {
		t.Fatalf("Err = %+v, want nil", state.Err)
	}
	if f.library.SaveCount() != 1 {
		t.Errorf("SaveCount = %d, want 1", f.library.SaveCount())
	}
}

func TestController_SwitchCameraPumpSurvivesCallerCancel(t *testing.T) {
	f := newTestFixture(authz.StatusAuthorized, authz.StatusAuthorized)
	defer f.controller.Close()

	f.controller.CheckAuthorizationAndStart(context.Background())
	f.controller.sync()

	// 切替を発行した直後にリクエストコンテキストを取り消す
	reqCtx, cancel := context.WithCancel(context.Background())
	f.controller.SwitchCamera(reqCtx)
	cancel()
	f.controller.sync()

	state := waitForState(t, f.controller, "位置の更新", func(s UIState) bool {
		return s.Position == PositionFront
	})
	if state.Err != nil {
		t.Fatalf("Err = %+v, want nil", state.Err)
	}

	// 取り消し前に配信済みのフレームを読み捨てる
	frames := f.controller.Session().FrameChannel()
	for {
		select {
		case <-frames:
			continue
		default:
		}
		break
	}

	// 再起動したポンプは取り消し後もフレームを配信し続ける
	deadline := time.After(2 * time.Second)
	received := 0
	for received < 2 {
		select {
		case frame := <-frames:
			if len(frame) > 0 {
				received++
			}
		case <-deadline:
			t.Fatalf("取り消し後のフレームが届きません (受信 %d)", received)
		}
	}

	if got := f.controller.Session().State(); got != SessionRunning {
		t.Errorf("State = %s, want %s", got, SessionRunning)
	}
}

func TestController_CloseCompletesPendingStop(t *testing.T) {
	f := newTestFixture(authz.StatusAuthorized, authz.StatusAuthorized)

	f.controller.CheckAuthorizationAndStart(context.Background())
	f.controller.sync()

	stateCh, unsubscribe := f.controller.SubscribeState()
	defer unsubscribe()

	// Stopの直後のCloseでも、予約済みの停止コマンドは実行される
	f.controller.Stop()
	f.controller.Close()

	if got := f.controller.Session().State(); got != SessionStopped {
		t.Errorf("State = %s, want %s", got, SessionStopped)
	}

	// 停止状態のスナップショットも配信されてからHubが閉じる
	sawStopped := false
	for state := range stateCh {
		if state.SessionState == SessionStopped {
			sawStopped = true
		}
	}
	if !sawStopped {
		t.Error("停止状態のスナップショットが配信されませんでした")
	}
}

func TestController_DismissError(t *testing.T) {
	ctx := context.Background()
	f := newTestFixture(authz.StatusDenied, authz.StatusAuthorized)
	defer f.controller.Close()

	f.controller.CheckAuthorizationAndStart(ctx)
	f.controller.sync()

	state := f.controller.Snapshot()
	if state.Err == nil {
		t.Fatal("エラーが公開されていません")
	}

	f.controller.DismissError()

	waitForState(t, f.controller, "エラーの消去", func(s UIState) bool {
		return s.Err == nil
	})
}
