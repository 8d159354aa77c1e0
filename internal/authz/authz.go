// Package authz はカメラ使用とフォトライブラリ書き込みの権限境界を提供する
//
// 権限の状態はプラットフォーム（ここでは運用ポリシー設定）が所有し、
// 利用側は「現在の状態を読む」「一度だけ要求する」「結果で分岐する」
// 以外の契約を持たない。状態はチェックをまたいでキャッシュしない
package authz

import (
	"context"
	"fmt"
	"sync"
)

// Status は権限の状態を表す
type Status string

const (
	StatusNotDetermined Status = "not_determined" // 未決定（まだ要求していない）
	StatusAuthorized    Status = "authorized"     // 許可済み
	StatusLimited       Status = "limited"        // 限定的に許可（ライブラリのみ）
	StatusDenied        Status = "denied"         // 拒否
	StatusRestricted    Status = "restricted"     // ポリシーにより使用不可
)

// Authorizer は単一の権限境界を表す
type Authorizer interface {
	// Status は現在の権限状態を返す
	Status(ctx context.Context) Status

	// Request はユーザー（運用ポリシー）へ権限を要求し、決定後の状態を返す
	// 既に決定済みの場合は現在の状態をそのまま返す
	Request(ctx context.Context) (Status, error)
}

// Policy は設定ファイルで指定する権限ポリシー値
const (
	PolicyAllow      = "allow"      // 常に許可
	PolicyLimited    = "limited"    // 限定的に許可
	PolicyDeny       = "deny"       // 常に拒否
	PolicyRestricted = "restricted" // ポリシーにより使用不可
	PolicyAsk        = "ask"        // 要求時に決定
)

// PolicyAuthorizer は運用ポリシー設定に基づくAuthorizer実装
//
// policy が ask の場合は要求があるまで未決定のままとなり、
// 要求時に onRequest の値で決定される
type PolicyAuthorizer struct {
	mu sync.Mutex

	current   Status
	onRequest Status
}

// NewPolicyAuthorizer はポリシー文字列からPolicyAuthorizerを作成する
func NewPolicyAuthorizer(policy, onRequest string) (*PolicyAuthorizer, error) {
	initial, err := statusForPolicy(policy, StatusNotDetermined)
	if err != nil {
		return nil, fmt.Errorf("無効な権限ポリシー: %w", err)
	}

	granted, err := statusForPolicy(onRequest, StatusDenied)
	if err != nil {
		return nil, fmt.Errorf("無効な要求時ポリシー: %w", err)
	}
	if granted == StatusNotDetermined {
		granted = StatusDenied
	}

	return &PolicyAuthorizer{current: initial, onRequest: granted}, nil
}

// statusForPolicy はポリシー文字列を状態へ変換する
func statusForPolicy(policy string, askValue Status) (Status, error) {
	switch policy {
	case PolicyAllow:
		return StatusAuthorized, nil
	case PolicyLimited:
		return StatusLimited, nil
	case PolicyDeny:
		return StatusDenied, nil
	case PolicyRestricted:
		return StatusRestricted, nil
	case PolicyAsk, "":
		return askValue, nil
	default:
		return StatusNotDetermined, fmt.Errorf("未知のポリシー値: %q", policy)
	}
}

// Status は現在の権限状態を返す
func (p *PolicyAuthorizer) Status(_ context.Context) Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Request は権限を要求する
func (p *PolicyAuthorizer) Request(_ context.Context) (Status, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current != StatusNotDetermined {
		return p.current, nil
	}

	p.current = p.onRequest
	return p.current, nil
}

// MockAuthorizer はテスト用のモックAuthorizer実装
type MockAuthorizer struct {
	mu sync.Mutex

	status        Status
	requestResult Status
	requestErr    error
	requestCount  int
}

// NewMockAuthorizer は初期状態を持つ新しいMockAuthorizerを作成する
func NewMockAuthorizer(status Status) *MockAuthorizer {
	return &MockAuthorizer{status: status, requestResult: status}
}

// Status は現在の権限状態を返す
func (m *MockAuthorizer) Status(_ context.Context) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Request は設定された結果を返し、状態を更新する
func (m *MockAuthorizer) Request(_ context.Context) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requestCount++
	if m.requestErr != nil {
		return m.status, m.requestErr
	}

	m.status = m.requestResult
	return m.status, nil
}

// SetRequestResult はテスト用に要求時の決定結果を設定する
func (m *MockAuthorizer) SetRequestResult(status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestResult = status
}

// SetRequestErr はテスト用に要求時のエラーを設定する
func (m *MockAuthorizer) SetRequestErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestErr = err
}

// RequestCount は記録された要求回数を返す
func (m *MockAuthorizer) RequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestCount
}
