package client

import (
	"testing"
)

func TestWebsocketURL(t *testing.T) {
	tests := []struct {
		name     string
		address  string
		expected string
		wantErr  bool
	}{
		{
			name:     "bare host and port defaults to ws",
			address:  "localhost:8080",
			expected: "ws://localhost:8080/ws",
		},
		{
			name:     "http maps to ws",
			address:  "http://chat.store.local:8080",
			expected: "ws://chat.store.local:8080/ws",
		},
		{
			name:     "https maps to wss",
			address:  "https://chat.store.example",
			expected: "wss://chat.store.example/ws",
		},
		{
			name:     "path prefix is kept",
			address:  "https://example.com/pos/",
			expected: "wss://example.com/pos/ws",
		},
		{
			name:     "existing query is dropped",
			address:  "ws://example.com?token=stale",
			expected: "ws://example.com/ws",
		},
		{
			name:    "unsupported scheme",
			address: "ftp://example.com",
			wantErr: true,
		},
		{
			name:    "missing host",
			address: "http://",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u, err := websocketURL(tt.address)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("websocketURL(%q) = %v, want error", tt.address, u)
				}
				return
			}
			if err != nil {
				t.Fatalf("websocketURL(%q) error: %v", tt.address, err)
			}
			if u.String() != tt.expected {
				t.Errorf("websocketURL(%q) = %q, want %q", tt.address, u.String(), tt.expected)
			}
		})
	}
}

func TestConnectionEndpointCarriesToken(t *testing.T) {
	conn, err := NewConnection("localhost:8080", "abc.def")
	if err != nil {
		t.Fatalf("NewConnection() error: %v", err)
	}
	if got, want := conn.endpoint(), "ws://localhost:8080/ws?token=abc.def"; got != want {
		t.Errorf("endpoint() = %q, want %q", got, want)
	}
	if conn.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", conn.State())
	}
}

func TestConnectionStateString(t *testing.T) {
	if StateReconnecting.String() != "reconnecting" {
		t.Errorf("StateReconnecting.String() = %q", StateReconnecting.String())
	}
	if ConnectionState(42).String() != "state(42)" {
		t.Errorf("unknown state String() = %q", ConnectionState(42).String())
	}
}
