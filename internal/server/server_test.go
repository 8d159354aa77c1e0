package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"satsuei/internal/config"
)

// newTestConfig はモックデバイス構成のテスト用設定を作成する
func newTestConfig(t *testing.T, port int) *config.Config {
	t.Helper()

	return &config.Config{
		Server: config.ServerConfig{
			Host:           "127.0.0.1",
			Port:           port,
			ReadTimeoutSec: 5,
		},
		Camera: config.CameraConfig{
			BackDevice:      "/dev/video0",
			FrontDevice:     "/dev/video2",
			InitialPosition: "back",
			Width:           1280,
			Height:          720,
			FPS:             15,
			Mock:            true,
		},
		Flash: config.FlashConfig{
			Enabled: false,
		},
		Library: config.LibraryConfig{
			Dir: t.TempDir(),
		},
		Authz: config.AuthzConfig{
			Camera:  config.PolicyConfig{Policy: "allow"},
			Library: config.PolicyConfig{Policy: "allow"},
		},
	}
}

// TestServerStartAndShutdown はサーバーの起動とシャットダウンをテストする
func TestServerStartAndShutdown(t *testing.T) {
	srv, err := New(newTestConfig(t, 0)) // ランダムポートを使用
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// サーバーを別ゴルーチンで起動
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(ctx)
	}()

	// サーバーが起動するまで少し待つ
	time.Sleep(100 * time.Millisecond)

	// コンテキストをキャンセルしてサーバーを停止
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("サーバーの起動/停止でエラーが発生しました: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("サーバーの停止がタイムアウトしました")
	}
}

// TestServerEndpoints はサーバーのエンドポイントをテストする
func TestServerEndpoints(t *testing.T) {
	cfg := newTestConfig(t, 8091) // 固定ポートでテスト

	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = srv.Start(ctx)
	}()

	// サーバーが起動するまで待つ
	time.Sleep(500 * time.Millisecond)

	baseURL := fmt.Sprintf("http://%s", cfg.ServerAddress())

	testCases := []struct {
		name           string
		method         string
		endpoint       string
		expectedStatus int
	}{
		{"ルートエンドポイント", http.MethodGet, "/", http.StatusOK},
		{"ヘルスチェックエンドポイント", http.MethodGet, "/health", http.StatusOK},
		{"状態エンドポイント", http.MethodGet, "/api/state", http.StatusOK},
		{"アセット一覧エンドポイント", http.MethodGet, "/api/captures", http.StatusOK},
		{"撮影前の最新サムネイルは404", http.MethodGet, "/api/captures/latest", http.StatusNotFound},
		{"存在しないアセットは404", http.MethodGet, "/api/captures/missing", http.StatusNotFound},
		{"フラッシュ切替コマンド", http.MethodPost, "/api/flash/cycle", http.StatusAccepted},
		{"エラー消去コマンド", http.MethodPost, "/api/error/dismiss", http.StatusOK},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := http.NewRequest(tc.method, baseURL+tc.endpoint, nil)
			if err != nil {
				t.Fatalf("リクエストの作成に失敗: %v", err)
			}

			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("HTTPリクエストでエラーが発生しました: %v", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tc.expectedStatus {
				t.Errorf("予期しないステータスコード: got %d, want %d",
					resp.StatusCode, tc.expectedStatus)
			}
		})
	}
}

// TestServerStateResponse は状態エンドポイントのレスポンス内容をテストする
func TestServerStateResponse(t *testing.T) {
	cfg := newTestConfig(t, 8092)

	srv, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		_ = srv.Start(ctx)
	}()

	time.Sleep(500 * time.Millisecond)

	baseURL := fmt.Sprintf("http://%s", cfg.ServerAddress())

	// 権限はallowなのでセッションが稼働する
	state := waitForSessionState(t, baseURL, "running")
	if state.Position != "back" {
		t.Errorf("position = %s, want back", state.Position)
	}
	if state.FlashMode != "off" {
		t.Errorf("flash_mode = %s, want off", state.FlashMode)
	}
	if state.FlashIcon != "bolt.slash.fill" {
		t.Errorf("flash_icon = %s, want bolt.slash.fill", state.FlashIcon)
	}
	if state.Error != nil {
		t.Errorf("error = %+v, want nil", state.Error)
	}

	// フラッシュ切替コマンドが状態へ反映される
	resp, err := http.Post(baseURL+"/api/flash/cycle", "application/json", nil)
	if err != nil {
		t.Fatalf("フラッシュ切替に失敗: %v", err)
	}
	resp.Body.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		state := fetchState(t, baseURL)
		if state.FlashMode == "on" {
			if state.FlashIcon != "bolt.fill" {
				t.Errorf("flash_icon = %s, want bolt.fill", state.FlashIcon)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("flash_mode = %s, want on", state.FlashMode)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// fetchState は状態エンドポイントからレスポンスを取得する
func fetchState(t *testing.T, baseURL string) StateResponse {
	t.Helper()

	resp, err := http.Get(baseURL + "/api/state")
	if err != nil {
		t.Fatalf("状態の取得に失敗: %v", err)
	}
	defer resp.Body.Close()

	var state StateResponse
	if err := json.NewDecoder(resp.Body).Decode(&state); err != nil {
		t.Fatalf("状態レスポンスの解析に失敗: %v", err)
	}
	return state
}

// waitForSessionState はセッション状態が期待値になるまで待つ
func waitForSessionState(t *testing.T, baseURL, want string) StateResponse {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for {
		state := fetchState(t, baseURL)
		if state.SessionState == want {
			return state
		}
		if time.Now().After(deadline) {
			t.Fatalf("session_state = %s, want %s", state.SessionState, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
