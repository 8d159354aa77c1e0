package strobe

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/stianeikeland/go-rpio/v4"
)

// GPIOStrobe はRaspberry PiのGPIOピンでLEDストロボを駆動する実装
type GPIOStrobe struct {
	mu sync.Mutex

	pin   rpio.Pin
	pulse time.Duration
}

// NewGPIOStrobe は指定ピンのGPIOStrobeを作成する
// rpioのメモリマップを開くため、使い終わったらCloseを呼ぶこと
func NewGPIOStrobe(pin int, pulse time.Duration) (*GPIOStrobe, error) {
	if err := rpio.Open(); err != nil {
		return nil, fmt.Errorf("GPIOのオープンに失敗: %w", err)
	}

	if pulse <= 0 {
		pulse = DefaultPulse
	}

	p := rpio.Pin(pin)
	p.Output()
	p.Low()

	return &GPIOStrobe{pin: p, pulse: pulse}, nil
}

// Available は常にtrueを返す（オープンに成功した時点で利用可能）
func (g *GPIOStrobe) Available() bool {
	return true
}

// Fire はピンをパルス時間だけHighにして発光する
func (g *GPIOStrobe) Fire(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.pin.High()
	defer g.pin.Low()

	timer := time.NewTimer(g.pulse)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close はGPIOリソースを解放する
func (g *GPIOStrobe) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.pin.Low()
	return rpio.Close()
}
