package capture

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"sync"
	"time"
)

// V4L2Discovery はLinux環境での位置別カメラデバイス検出を実装する
//
// 位置とデバイスパスの対応は設定から与えられる
// （例: back → /dev/video0, front → /dev/video2）
type V4L2Discovery struct {
	devices map[Position]string
}

// NewV4L2Discovery は位置→デバイスパス対応を持つ新しいV4L2Discoveryを作成する
func NewV4L2Discovery(devices map[Position]string) Discovery {
	return &V4L2Discovery{devices: devices}
}

// DeviceAtPosition は指定位置のカメラデバイスを検出する
func (d *V4L2Discovery) DeviceAtPosition(ctx context.Context, position Position) (*Device, error) {
	path, ok := d.devices[position]
	if ok && path == "" {
		ok = false
	}
	if !ok {
		return nil, fmt.Errorf("位置 %s にカメラが構成されていません", position)
	}

	if !d.IsDeviceAvailable(ctx, path) {
		return nil, fmt.Errorf("デバイスが利用できません: %s", path)
	}

	return &Device{
		Path:     path,
		Name:     d.deviceName(path),
		Position: position,
	}, nil
}

// IsDeviceAvailable は指定されたデバイスが利用可能かチェックする
func (d *V4L2Discovery) IsDeviceAvailable(_ context.Context, device string) bool {
	// デバイスファイルの存在確認
	if _, err := os.Stat(device); os.IsNotExist(err) {
		return false
	}

	// デバイスファイルの読み取り権限チェック
	file, err := os.OpenFile(device, os.O_RDONLY, 0)
	if err != nil {
		return false
	}
	defer func() {
		_ = file.Close()
	}()

	return d.isV4L2Device(device)
}

// isV4L2Device はデバイスがV4L2デバイスかチェックする
// 簡易実装：実際にはV4L2のioctl呼び出しで確認する
func (d *V4L2Discovery) isV4L2Device(device string) bool {
	matched, _ := regexp.MatchString(`^/dev/video\d+$`, device)
	return matched
}

// deviceName はデバイスの表示名を取得する
func (d *V4L2Discovery) deviceName(device string) string {
	// v4l2-ctlを使って実際のカメラ名を取得
	if realName := d.getV4L2DeviceName(device); realName != "" {
		return realName
	}

	// フォールバック: デバイスパスから生成
	return fmt.Sprintf("カメラ (%s)", device)
}

// getV4L2DeviceName はv4l2-ctlを使って実際のデバイス名を取得する
func (d *V4L2Discovery) getV4L2DeviceName(device string) string {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "v4l2-ctl", "--device", device, "--info")
	output, err := cmd.Output()
	if err != nil {
		return ""
	}

	// "Card type" の行からカメラ名を抽出
	lines := strings.Split(string(output), "\n")
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "Card type") {
			parts := strings.SplitN(line, ":", 2)
			if len(parts) == 2 {
				cardType := strings.TrimSpace(parts[1])
				if cardType != "" {
					return cardType
				}
			}
		}
	}

	return ""
}

// MockDiscovery はテスト用のモックDiscovery実装
type MockDiscovery struct {
	mu sync.Mutex

	devices     map[Position]string
	unavailable map[Position]bool
}

// NewMockDiscovery は位置→デバイスパス対応を持つ新しいMockDiscoveryを作成する
func NewMockDiscovery(devices map[Position]string) *MockDiscovery {
	copied := make(map[Position]string, len(devices))
	for pos, path := range devices {
		copied[pos] = path
	}
	return &MockDiscovery{
		devices:     copied,
		unavailable: make(map[Position]bool),
	}
}

// DeviceAtPosition はモックデバイスを返す
func (m *MockDiscovery) DeviceAtPosition(_ context.Context, position Position) (*Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	path, ok := m.devices[position]
	if !ok || m.unavailable[position] {
		return nil, fmt.Errorf("位置 %s にカメラが見つかりません", position)
	}

	return &Device{
		Path:     path,
		Name:     fmt.Sprintf("テストカメラ (%s)", position),
		Position: position,
	}, nil
}

// IsDeviceAvailable はモックデバイスが利用可能かチェックする
func (m *MockDiscovery) IsDeviceAvailable(_ context.Context, device string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for pos, path := range m.devices {
		if path == device {
			return !m.unavailable[pos]
		}
	}
	return false
}

// SetUnavailable はテスト用に指定位置のデバイスを利用不可にする
func (m *MockDiscovery) SetUnavailable(position Position, unavailable bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unavailable[position] = unavailable
}
