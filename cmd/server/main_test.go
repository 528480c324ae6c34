package main

import (
	"testing"

	"github.com/NicolasHaas/gorelay/pkg/protocol"
	"github.com/NicolasHaas/gorelay/pkg/server"
)

func TestConnectKey(t *testing.T) {
	tests := map[string]struct {
		listen    string
		advertise string
		want      string
	}{
		"wildcard listen": {listen: ":18080", want: "localhost:18080/ws"},
		"ipv4 any":        {listen: "0.0.0.0:9000", want: "localhost:9000/ws"},
		"explicit host":   {listen: "10.0.0.7:18080", want: "10.0.0.7:18080/ws"},
		"advertised":      {listen: ":18080", advertise: "relay.example:443", want: "relay.example:443/ws"},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := server.DefaultConfig()
			cfg.ListenAddr = tc.listen
			cfg.AdvertiseAddr = tc.advertise
			key := protocol.ConnectKey(connectAddr(cfg))
			if key != tc.want {
				t.Fatalf("connect key: want %q, got %q", tc.want, key)
			}
			// the client must be able to dial what the server prints
			if _, err := protocol.ParseConnectKey(key); err != nil {
				t.Fatalf("ParseConnectKey(%q): %v", key, err)
			}
		})
	}
}
