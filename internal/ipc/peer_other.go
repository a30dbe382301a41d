//go:build !linux && !darwin

package ipc

import (
	"errors"
	"net"
)

var errNoPeerCreds = errors.New("ipc: peer credentials not supported on this platform")

// GetPeerCredentials is not supported on this platform.
func GetPeerCredentials(conn net.Conn) (*PeerCredentials, error) {
	return nil, errNoPeerCreds
}

// VerifyPeerIsCurrentUser is not supported on this platform.
func VerifyPeerIsCurrentUser(conn net.Conn) (bool, error) {
	return false, errNoPeerCreds
}
