//go:build !linux
// +build !linux

package client

import (
	"errors"
	"net"
)

// UnixSocketResolver has no portable peer-credential mechanism outside
// Linux's SO_PEERCRED; PeerCredentials always fails here.
type UnixSocketResolver struct {
	Conn *net.UnixConn
}

func (r UnixSocketResolver) PeerCredentials() (PeerCredentials, error) {
	return PeerCredentials{}, errors.New("client: peer credential resolution is not implemented on this platform")
}
