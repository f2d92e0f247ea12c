// Package terminal defines the Terminal Driver interface the engine uses to
// talk to a physical Secure Element, plus a PC/SC-backed implementation and
// an in-memory fake for tests.
package terminal

import "context"

// OpenChannelResult is returned by OpenLogicalChannel.
type OpenChannelResult struct {
	ChannelNumber int
	SelectResponse []byte
}

// Terminal is the transport abstraction the engine drives. Implementations
// must preserve the CLA byte exactly as given to Transmit — the engine
// owns channel-bit rewriting — and must not run their own GET RESPONSE
// loops; the engine does that.
type Terminal interface {
	// GetATR returns the Secure Element's ATR, or nil if unavailable.
	GetATR(ctx context.Context) ([]byte, error)

	// IsCardPresent reports whether an SE is currently inserted/reachable.
	IsCardPresent(ctx context.Context) (bool, error)

	// OpenLogicalChannel opens a new logical channel, optionally selecting
	// aid (nil selects the default application). p2 carries the SELECT
	// qualifier (first/next/last/last-or-previous occurrence).
	OpenLogicalChannel(ctx context.Context, aid []byte, p2 byte) (OpenChannelResult, error)

	// CloseLogicalChannel releases a previously opened logical channel.
	CloseLogicalChannel(ctx context.Context, channelNumber int) error

	// Transmit sends a raw command APDU and returns the raw response,
	// including its trailing status word.
	Transmit(ctx context.Context, apdu []byte) ([]byte, error)

	// SimIOExchange performs a legacy SIM-IO exchange against fileID/path,
	// for platforms without ISO logical-channel access to the file system.
	SimIOExchange(ctx context.Context, fileID int, path []byte, command []byte) ([]byte, error)

	// SEStateChanged returns a channel that receives a value whenever the
	// SE is inserted, removed, or reset. The engine uses this to invalidate
	// its access-rule cache.
	SEStateChanged() <-chan struct{}

	// Close releases any driver-held resources (PC/SC context, etc).
	Close() error
}
