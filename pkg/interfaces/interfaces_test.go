package interfaces

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"chatsync/pkg/types"
)

// Compile-time style checks that the contracts stay implementable with
// plain structs, using minimal in-package mocks.

type mockTransport struct {
	state types.ConnectionState
}

func (m *mockTransport) State() types.ConnectionState { return m.state }
func (m *mockTransport) Connect(ctx context.Context, creds Credentials) error {
	m.state = types.StateConnected
	return nil
}
func (m *mockTransport) Retry(ctx context.Context) error                { return nil }
func (m *mockTransport) Emit(event string, payload interface{}) error   { return nil }
func (m *mockTransport) On(event string, handler EventHandler) Subscription { return 1 }
func (m *mockTransport) Off(event string, sub Subscription)             {}
func (m *mockTransport) Close() error                                   { return nil }

type mockBackend struct{}

func (m *mockBackend) FetchHistory(ctx context.Context, roomID string) ([]*types.Message, error) {
	return nil, nil
}
func (m *mockBackend) SendFile(ctx context.Context, roomID, filename string, data io.Reader) (*types.Message, error) {
	return nil, nil
}
func (m *mockBackend) CreateRoom(ctx context.Context, title, content string) (string, error) {
	return "", nil
}
func (m *mockBackend) MarkAsRead(ctx context.Context, roomID string) error { return nil }
func (m *mockBackend) ReadState(ctx context.Context, roomID string) (time.Time, error) {
	return time.Time{}, nil
}

func TestInterfaceCompliance(t *testing.T) {
	var _ Transport = &mockTransport{}
	var _ Backend = &mockBackend{}
	var _ EventHandler = func(data json.RawMessage) {}
}

func TestMockTransportStateTransition(t *testing.T) {
	mt := &mockTransport{state: types.StateDisconnected}
	if err := mt.Connect(context.Background(), Credentials{}); err != nil {
		t.Fatalf("Connect should succeed: %v", err)
	}
	if mt.State() != types.StateConnected {
		t.Errorf("Expected connected state, got %s", mt.State())
	}
}
