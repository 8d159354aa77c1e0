package capture

import (
	"context"
	"testing"
)

func TestMockDiscovery_DeviceAtPosition(t *testing.T) {
	ctx := context.Background()
	discovery := NewMockDiscovery(map[Position]string{
		PositionBack: "/dev/video0",
	})

	device, err := discovery.DeviceAtPosition(ctx, PositionBack)
	if err != nil {
		t.Fatalf("DeviceAtPosition failed: %v", err)
	}
	if device.Path != "/dev/video0" {
		t.Errorf("Path = %s, want /dev/video0", device.Path)
	}
	if device.Position != PositionBack {
		t.Errorf("Position = %s, want %s", device.Position, PositionBack)
	}

	// 構成されていない位置は検出に失敗する
	if _, err := discovery.DeviceAtPosition(ctx, PositionFront); err == nil {
		t.Error("未構成の位置の検出がエラーになりませんでした")
	}
}

func TestMockDiscovery_SetUnavailable(t *testing.T) {
	ctx := context.Background()
	discovery := NewMockDiscovery(map[Position]string{
		PositionBack: "/dev/video0",
	})

	discovery.SetUnavailable(PositionBack, true)

	if _, err := discovery.DeviceAtPosition(ctx, PositionBack); err == nil {
		t.Error("利用不可のデバイスの検出がエラーになりませんでした")
	}
	if discovery.IsDeviceAvailable(ctx, "/dev/video0") {
		t.Error("IsDeviceAvailable = true, want false")
	}

	// 復帰できる
	discovery.SetUnavailable(PositionBack, false)
	if _, err := discovery.DeviceAtPosition(ctx, PositionBack); err != nil {
		t.Errorf("復帰後の検出に失敗: %v", err)
	}
}

func TestV4L2Discovery_IsV4L2Device(t *testing.T) {
	d := &V4L2Discovery{}

	testCases := []struct {
		device string
		want   bool
	}{
		{"/dev/video0", true},
		{"/dev/video12", true},
		{"/dev/null", false},
		{"/dev/videoX", false},
		{"video0", false},
	}

	for _, tc := range testCases {
		if got := d.isV4L2Device(tc.device); got != tc.want {
			t.Errorf("isV4L2Device(%s) = %v, want %v", tc.device, got, tc.want)
		}
	}
}

func TestV4L2Discovery_UnconfiguredPosition(t *testing.T) {
	ctx := context.Background()
	discovery := NewV4L2Discovery(map[Position]string{
		PositionBack: "/dev/video0",
	})

	if _, err := discovery.DeviceAtPosition(ctx, PositionFront); err == nil {
		t.Error("未構成の位置の検出がエラーになりませんでした")
	}
}
