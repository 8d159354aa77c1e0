package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"satsuei/internal/capture"
)

// ErrorResponse はAPIエラーのレスポンス
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// StateResponse は公開状態のレスポンス
type StateResponse struct {
	SessionState  string                `json:"session_state"`
	Position      string                `json:"position"`
	FlashMode     string                `json:"flash_mode"`
	FlashIcon     string                `json:"flash_icon"`
	IsSaving      bool                  `json:"is_saving"`
	Error         *capture.CaptureError `json:"error,omitempty"`
	CapturedImage *ThumbnailInfo        `json:"captured_image,omitempty"`
	Timestamp     time.Time             `json:"timestamp"`
}

// ThumbnailInfo は最新撮影サムネイルのメタ情報
type ThumbnailInfo struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	URL    string `json:"url"`
}

// AssetInfo はライブラリ内アセットのメタ情報
type AssetInfo struct {
	ID        string    `json:"id"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// toStateResponse はUIStateをレスポンスへ変換する
func toStateResponse(state capture.UIState) StateResponse {
	response := StateResponse{
		SessionState: string(state.SessionState),
		Position:     string(state.Position),
		FlashMode:    string(state.FlashMode),
		FlashIcon:    FlashIcon(state.FlashMode),
		IsSaving:     state.IsSaving,
		Error:        state.Err,
		Timestamp:    time.Now(),
	}

	if state.CapturedImage != nil {
		response.CapturedImage = &ThumbnailInfo{
			Width:  state.CapturedImage.Width,
			Height: state.CapturedImage.Height,
			URL:    "/api/captures/latest",
		}
	}

	return response
}

// handleHealth はヘルスチェックエンドポイント
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
	})
}

// handleIndex は埋め込みUIを配信する
func (s *Server) handleIndex(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", getIndexHTML())
}

// handleState は公開状態のスナップショットを返す
func (s *Server) handleState(c *gin.Context) {
	c.JSON(http.StatusOK, toStateResponse(s.controller.Snapshot()))
}

// handleStateStream は状態スナップショットをSSEで配信する
// 接続直後に現在のスナップショットを送り、以後は更新ごとに送る
func (s *Server) handleStateStream(c *gin.Context) {
	stateCh, unsubscribe := s.controller.SubscribeState()
	defer unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	writer := c.Writer
	flusher, ok := writer.(http.Flusher)
	if !ok {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	writeState := func(state capture.UIState) bool {
		data, err := json.Marshal(toStateResponse(state))
		if err != nil {
			return false
		}
		if _, err := writer.Write([]byte("data: ")); err != nil {
			return false
		}
		if _, err := writer.Write(data); err != nil {
			return false
		}
		if _, err := writer.Write([]byte("\n\n")); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	if !writeState(s.controller.Snapshot()) {
		return
	}

	clientGone := c.Request.Context().Done()
	for {
		select {
		case <-clientGone:
			return
		case state, ok := <-stateCh:
			if !ok {
				return
			}
			if !writeState(state) {
				return
			}
		}
	}
}

// handleViewfinder はライブプレビューをMJPEGで配信する
// ビューはセッションハンドル（フレームチャンネル）を橋渡しするだけで、
// キャプチャのロジックは一切持たない
func (s *Server) handleViewfinder(c *gin.Context) {
	c.Header("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Access-Control-Allow-Origin", "*")

	writer := c.Writer
	flusher, ok := writer.(http.Flusher)
	if !ok {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	frameChan := s.controller.Session().FrameChannel()

	// クライアント切断を検知するためのコンテキスト
	clientGone := c.Request.Context().Done()

	for {
		select {
		case <-clientGone:
			// クライアントが切断された
			return

		case frame, ok := <-frameChan:
			if !ok {
				return
			}

			if _, err := writer.Write([]byte("--frame\r\n")); err != nil {
				return
			}
			if _, err := writer.Write([]byte("Content-Type: image/jpeg\r\n\r\n")); err != nil {
				return
			}
			if _, err := writer.Write(frame); err != nil {
				return
			}
			if _, err := writer.Write([]byte("\r\n")); err != nil {
				return
			}

			flusher.Flush()
		}
	}
}

// handleLatestCapture は最新撮影のサムネイルを返す
// 撮影がまだない場合は404を返す（ビューはサムネイルを表示しない）
func (s *Server) handleLatestCapture(c *gin.Context) {
	state := s.controller.Snapshot()
	if state.CapturedImage == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:     "no_capture",
			Message:   "撮影された写真がまだありません",
			Timestamp: time.Now(),
		})
		return
	}

	c.Data(http.StatusOK, "image/jpeg", state.CapturedImage.Data)
}

// handleListCaptures はライブラリ内のアセット一覧を返す
func (s *Server) handleListCaptures(c *gin.Context) {
	assets := s.store.List()

	infos := make([]AssetInfo, 0, len(assets))
	for _, asset := range assets {
		infos = append(infos, AssetInfo{
			ID:        asset.ID,
			Size:      asset.Size,
			CreatedAt: asset.CreatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{"captures": infos})
}

// handleGetCapture は指定IDのアセットを配信する
func (s *Server) handleGetCapture(c *gin.Context) {
	asset, ok := s.store.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:     "capture_not_found",
			Message:   "指定された写真が見つかりません",
			Timestamp: time.Now(),
		})
		return
	}

	c.File(asset.Path)
}

// handleCapture は撮影コマンドを転送する
// 結果は後から公開状態として観測される
func (s *Server) handleCapture(c *gin.Context) {
	s.controller.CapturePhoto(c.Request.Context())
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

// handleSwitchCamera はカメラ切替コマンドを転送する
func (s *Server) handleSwitchCamera(c *gin.Context) {
	s.controller.SwitchCamera(c.Request.Context())
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

// handleCycleFlash はフラッシュモード切替コマンドを転送する
func (s *Server) handleCycleFlash(c *gin.Context) {
	s.controller.CycleFlashMode()
	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

// handleDismissError は表示中のエラーを消去する
func (s *Server) handleDismissError(c *gin.Context) {
	s.controller.DismissError()
	c.JSON(http.StatusOK, gin.H{"dismissed": true})
}
