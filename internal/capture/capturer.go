package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

// CaptureSize はキャプチャ解像度とフレームレートの設定
type CaptureSize struct {
	Width  int // 画像幅
	Height int // 画像高さ
	FPS    int // フレームレート
}

// V4L2Capturer はffmpegを使ってV4L2デバイスから画像を取得する
type V4L2Capturer struct {
	devicePath string
	size       CaptureSize
}

// NewV4L2Capturer は新しいV4L2Capturerを作成する
func NewV4L2Capturer(devicePath string, size CaptureSize) *V4L2Capturer {
	return &V4L2Capturer{
		devicePath: devicePath,
		size:       size,
	}
}

// CaptureFrameAsJPEG は1フレームをキャプチャしてJPEGバイト配列として返す
func (c *V4L2Capturer) CaptureFrameAsJPEG(ctx context.Context) ([]byte, error) {
	cmd := exec.CommandContext(ctx,
		"ffmpeg",
		"-f", "v4l2",
		"-video_size", fmt.Sprintf("%dx%d", c.size.Width, c.size.Height),
		"-i", c.devicePath,
		"-vframes", "1",
		"-f", "image2",
		"-c:v", "mjpeg",
		"-q:v", "2", // 高品質JPEG
		"-",
	)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("JPEGフレームキャプチャに失敗: %w (stderr: %s)", err, stderr.String())
	}

	return stdout.Bytes(), nil
}

// StartStream は連続キャプチャを開始し、フレームとエラーをチャンネルへ送る
func (c *V4L2Capturer) StartStream(ctx context.Context, frameChan chan<- []byte, errorChan chan<- error) {
	cmd := exec.CommandContext(ctx,
		"ffmpeg",
		"-f", "v4l2",
		"-video_size", fmt.Sprintf("%dx%d", c.size.Width, c.size.Height),
		"-r", strconv.Itoa(c.size.FPS),
		"-i", c.devicePath,
		"-f", "image2pipe",
		"-c:v", "mjpeg",
		"-q:v", "3",
		"-",
	)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		errorChan <- fmt.Errorf("stdoutパイプの作成に失敗: %w", err)
		return
	}

	if err := cmd.Start(); err != nil {
		errorChan <- fmt.Errorf("ffmpegの起動に失敗: %w", err)
		return
	}

	go func() {
		defer func() {
			_ = cmd.Wait() // コンテキストキャンセル時のエラーは無視
		}()

		buffer := make([]byte, 1024*1024) // 1MBバッファ
		frameBuffer := bytes.Buffer{}

		for {
			select {
			case <-ctx.Done():
				return
			default:
				n, err := stdout.Read(buffer)
				if err != nil {
					if err.Error() != "EOF" {
						select {
						case errorChan <- fmt.Errorf("フレーム読み取りエラー: %w", err):
						case <-ctx.Done():
						}
					}
					return
				}

				frameBuffer.Write(buffer[:n])

				// JPEGマーカーを探してフレームを分割
				data := frameBuffer.Bytes()
				for {
					// JPEGの開始マーカー（FF D8）を探す
					startIdx := bytes.Index(data, []byte{0xFF, 0xD8})
					if startIdx == -1 {
						break
					}

					// JPEGの終了マーカー（FF D9）を探す
					endIdx := bytes.Index(data[startIdx+2:], []byte{0xFF, 0xD9})
					if endIdx == -1 {
						// 完全なフレームがまだない
						if startIdx > 0 {
							frameBuffer.Reset()
							frameBuffer.Write(data[startIdx:])
						}
						break
					}

					// 完全なJPEGフレームを抽出
					endIdx += startIdx + 2 + 2 // マーカーのサイズを含める
					frame := make([]byte, endIdx)
					copy(frame, data[:endIdx])

					select {
					case frameChan <- frame:
					case <-ctx.Done():
						return
					}

					// 処理済みデータを削除
					remaining := data[endIdx:]
					frameBuffer.Reset()
					if len(remaining) > 0 {
						frameBuffer.Write(remaining)
						data = frameBuffer.Bytes()
					} else {
						break
					}
				}
			}
		}
	}()
}

// V4L2CapturerCreator は本番用のCapturerCreator実装
type V4L2CapturerCreator struct {
	size CaptureSize
}

// NewV4L2CapturerCreator は新しいV4L2CapturerCreatorを作成する
func NewV4L2CapturerCreator(size CaptureSize) CapturerCreator {
	return &V4L2CapturerCreator{size: size}
}

// CreateCapturer は実際のV4L2を使用するキャプチャを作成する
func (c *V4L2CapturerCreator) CreateCapturer(device Device) (FrameCapturer, error) {
	if device.Path == "" {
		return nil, fmt.Errorf("キャプチャを作成できません: デバイスパスが空です")
	}
	return NewV4L2Capturer(device.Path, c.size), nil
}

// MockFrameCapturer はテスト用のモックキャプチャ実装
type MockFrameCapturer struct {
	mu sync.Mutex

	frame        []byte
	captureCount int

	shouldFailCapture bool
	emptyFrame        bool
}

// NewMockFrameCapturer は新しいMockFrameCapturerを作成する
// デフォルトではデコード可能な8x8のグレーJPEGフレームを返す
func NewMockFrameCapturer() *MockFrameCapturer {
	var buf bytes.Buffer
	_ = jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, 8, 8)), nil)

	return &MockFrameCapturer{
		frame: buf.Bytes(),
	}
}

// SetFrame はテスト用に返すフレームを設定する
func (m *MockFrameCapturer) SetFrame(frame []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frame = frame
}

// SetShouldFailCapture はテスト用にキャプチャ失敗を設定する
func (m *MockFrameCapturer) SetShouldFailCapture(shouldFail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shouldFailCapture = shouldFail
}

// SetEmptyFrame はテスト用に空フレームの返却を設定する
func (m *MockFrameCapturer) SetEmptyFrame(empty bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emptyFrame = empty
}

// CaptureCount は記録されたキャプチャ回数を返す
func (m *MockFrameCapturer) CaptureCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.captureCount
}

// CaptureFrameAsJPEG はモックフレームを返す
// 本番実装と同様、取り消し済みコンテキストでのキャプチャは失敗する
func (m *MockFrameCapturer) CaptureFrameAsJPEG(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("モック: キャプチャが中断されました: %w", err)
	}
	if m.shouldFailCapture {
		return nil, fmt.Errorf("モック: キャプチャに失敗")
	}
	m.captureCount++

	if m.emptyFrame {
		return nil, nil
	}

	frame := make([]byte, len(m.frame))
	copy(frame, m.frame)
	return frame, nil
}

// StartStream はモックフレームを一定間隔で送る
func (m *MockFrameCapturer) StartStream(ctx context.Context, frameChan chan<- []byte, _ chan<- error) {
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			m.mu.Lock()
			frame := make([]byte, len(m.frame))
			copy(frame, m.frame)
			m.mu.Unlock()

			select {
			case frameChan <- frame:
			case <-ctx.Done():
				return
			}
		}
	}()
}

// MockCapturerCreator はテスト用のCapturerCreator実装
type MockCapturerCreator struct {
	mu sync.Mutex

	capturers        map[string]*MockFrameCapturer
	shouldFailCreate bool
}

// NewMockCapturerCreator は新しいMockCapturerCreatorを作成する
func NewMockCapturerCreator() *MockCapturerCreator {
	return &MockCapturerCreator{
		capturers: make(map[string]*MockFrameCapturer),
	}
}

// SetShouldFailCreate はテスト用に作成失敗を設定する
func (m *MockCapturerCreator) SetShouldFailCreate(shouldFail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shouldFailCreate = shouldFail
}

// Capturer は指定デバイスのモックキャプチャを返す（作成済みの場合）
func (m *MockCapturerCreator) Capturer(devicePath string) (*MockFrameCapturer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.capturers[devicePath]
	return c, ok
}

// CreateCapturer はモックキャプチャを作成する
func (m *MockCapturerCreator) CreateCapturer(device Device) (FrameCapturer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.shouldFailCreate {
		return nil, fmt.Errorf("モック: キャプチャの作成に失敗")
	}

	if c, ok := m.capturers[device.Path]; ok {
		return c, nil
	}
	c := NewMockFrameCapturer()
	m.capturers[device.Path] = c
	return c, nil
}
