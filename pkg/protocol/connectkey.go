package protocol

import (
	"errors"
	"net"
	"strconv"
	"strings"
)

// WSPath is the HTTP path of the relay socket.
const WSPath = "/ws"

var ErrInvalidConnectKey = errors.New("protocol: connect key must look like host:port/path")

// ConnectKey returns the key a server advertises for hostport, e.g.
// "relay.example:18080/ws".
func ConnectKey(hostport string) string {
	return hostport + WSPath
}

// ParseConnectKey turns a connect key into a dialable ws:// URL. The host
// ends at the last ':' before the first '/'; bracketed IPv6 hosts are
// accepted.
func ParseConnectKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	slash := strings.IndexByte(key, '/')
	if slash <= 0 {
		return "", ErrInvalidConnectKey
	}
	colon := strings.LastIndexByte(key[:slash], ':')
	if colon <= 0 {
		return "", ErrInvalidConnectKey
	}
	host := strings.TrimSuffix(strings.TrimPrefix(key[:colon], "["), "]")
	port, err := strconv.ParseUint(key[colon+1:slash], 10, 16)
	if host == "" || err != nil || port == 0 {
		return "", ErrInvalidConnectKey
	}
	return "ws://" + net.JoinHostPort(host, strconv.FormatUint(port, 10)) + key[slash:], nil
}
