// Package client implements the Client Façade (C10): translating external
// requests into calls on the engine, reader registry, and ACE packages,
// with per-client handle binding, PID validation, and cleanup on death.
package client

// PeerCredentials is what the transport resolves about the process on the
// other end of a client connection.
type PeerCredentials struct {
	Pid int32
	Uid uint32
}

// PeerResolver resolves PeerCredentials for a connection, one per listener
// socket type; UnixSocketResolver on Linux uses SO_PEERCRED, elsewhere it always
// fails (there is no portable equivalent without a platform-specific API).
type PeerResolver interface {
	PeerCredentials() (PeerCredentials, error)
}
