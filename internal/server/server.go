package server

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"satsuei/internal/authz"
	"satsuei/internal/capture"
	"satsuei/internal/config"
	"satsuei/internal/library"
	"satsuei/internal/strobe"
)

// Server はHTTPサーバーとキャプチャコントローラのライフサイクルを管理する構造体
type Server struct {
	config     *config.Config
	controller *capture.Controller
	store      *library.Store
	strobe     strobe.Strobe
	engine     *gin.Engine
	httpServer *http.Server
}

// New は設定からServerと配下のコンポーネント一式を組み立てる
func New(cfg *config.Config) (*Server, error) {
	size := capture.CaptureSize{
		Width:  cfg.Camera.Width,
		Height: cfg.Camera.Height,
		FPS:    cfg.Camera.FPS,
	}

	var discovery capture.Discovery
	var creator capture.CapturerCreator
	if cfg.Camera.Mock {
		discovery = capture.NewMockDiscovery(map[capture.Position]string{
			capture.PositionBack:  cfg.Camera.BackDevice,
			capture.PositionFront: cfg.Camera.FrontDevice,
		})
		creator = capture.NewMockCapturerCreator()
	} else {
		discovery = capture.NewV4L2Discovery(map[capture.Position]string{
			capture.PositionBack:  cfg.Camera.BackDevice,
			capture.PositionFront: cfg.Camera.FrontDevice,
		})
		creator = capture.NewV4L2CapturerCreator(size)
	}

	st, err := newStrobe(cfg.Flash)
	if err != nil {
		return nil, err
	}

	cameraAuth, err := authz.NewPolicyAuthorizer(cfg.Authz.Camera.Policy, cfg.Authz.Camera.OnRequest)
	if err != nil {
		return nil, fmt.Errorf("カメラ権限の構成に失敗: %w", err)
	}

	libraryAuth, err := authz.NewPolicyAuthorizer(cfg.Authz.Library.Policy, cfg.Authz.Library.OnRequest)
	if err != nil {
		return nil, fmt.Errorf("ライブラリ権限の構成に失敗: %w", err)
	}

	store, err := library.NewStore(cfg.Library.Dir)
	if err != nil {
		return nil, fmt.Errorf("フォトライブラリの作成に失敗: %w", err)
	}

	controller := capture.NewController(capture.ControllerDeps{
		Discovery:   discovery,
		Creator:     creator,
		Output:      capture.NewPhotoOutput(st),
		Library:     store,
		CameraAuth:  cameraAuth,
		LibraryAuth: libraryAuth,
	}, capture.Position(cfg.Camera.InitialPosition))

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Logger(), gin.Recovery())

	s := &Server{
		config:     cfg,
		controller: controller,
		store:      store,
		strobe:     st,
		engine:     engine,
		httpServer: &http.Server{
			Addr:        cfg.ServerAddress(),
			Handler:     engine,
			ReadTimeout: cfg.Server.ReadTimeout(),
			// ストリーミングのため書き込みタイムアウトは設定しない
		},
	}

	s.setupRoutes()
	return s, nil
}

// newStrobe は設定に応じたストロボ実装を作成する
func newStrobe(cfg config.FlashConfig) (strobe.Strobe, error) {
	if !cfg.Enabled {
		return strobe.NewNullStrobe(), nil
	}
	if cfg.Mock {
		return strobe.NewMockStrobe(), nil
	}

	st, err := strobe.NewGPIOStrobe(cfg.Pin, cfg.Pulse())
	if err != nil {
		return nil, fmt.Errorf("ストロボの構成に失敗: %w", err)
	}
	return st, nil
}

// Controller はサーバーが所有するコントローラを返す
func (s *Server) Controller() *capture.Controller {
	return s.controller
}

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes() {
	// ヘルスチェックエンドポイント
	s.engine.GET("/health", s.handleHealth)

	// 静的ファイル
	s.engine.GET("/", s.handleIndex)
	s.engine.StaticFS("/assets", GetAssetsFS())

	api := s.engine.Group("/api")
	{
		// 状態の読み出し
		api.GET("/state", s.handleState)
		api.GET("/state/stream", s.handleStateStream)
		api.GET("/viewfinder", s.handleViewfinder)
		api.GET("/captures", s.handleListCaptures)
		api.GET("/captures/latest", s.handleLatestCapture)
		api.GET("/captures/:id", s.handleGetCapture)

		// コマンド
		api.POST("/capture", s.handleCapture)
		api.POST("/camera/switch", s.handleSwitchCamera)
		api.POST("/flash/cycle", s.handleCycleFlash)
		api.POST("/error/dismiss", s.handleDismissError)
	}
}

// Start はサーバーを起動し、コントローラのライフサイクルを結び付ける
func (s *Server) Start(ctx context.Context) error {
	// シャットダウン用のチャンネル
	shutdownCh := make(chan error, 1)

	// サーバーを別ゴルーチンで起動
	go func() {
		log.Printf("HTTPサーバーを起動しています: %s", s.config.ServerAddress())
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			shutdownCh <- fmt.Errorf("サーバーの起動に失敗: %w", err)
		}
	}()

	// ビューの表示に相当: 権限確認とセッション開始
	s.controller.CheckAuthorizationAndStart(ctx)

	// シグナルハンドリング
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// コンテキストかシグナルを待つ
	select {
	case <-ctx.Done():
		log.Println("コンテキストがキャンセルされました")
	case sig := <-sigCh:
		log.Printf("シグナルを受信しました: %v", sig)
	case err := <-shutdownCh:
		s.teardown()
		return err
	}

	// グレースフルシャットダウン
	return s.Shutdown()
}

// Shutdown はサーバーをグレースフルにシャットダウンする
func (s *Server) Shutdown() error {
	log.Println("サーバーをシャットダウンしています...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := s.httpServer.Shutdown(ctx)

	s.teardown()

	if err != nil {
		return fmt.Errorf("サーバーのシャットダウンに失敗: %w", err)
	}

	log.Println("サーバーが正常にシャットダウンされました")
	return nil
}

// teardown はコントローラと周辺リソースを停止する
// ビューの非表示に相当: セッション停止のみがライフサイクル起点のコマンド
func (s *Server) teardown() {
	s.controller.Stop()
	s.controller.Close()

	if closer, ok := s.strobe.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			log.Printf("ストロボの解放に失敗: %v", err)
		}
	}

	if err := s.store.Close(); err != nil {
		log.Printf("フォトライブラリの停止に失敗: %v", err)
	}
}
