// Package engine implements the Channel/Session Engine (C5): the channel
// state machine, logical-channel table, GET-RESPONSE post-processing loop,
// SELECT gating, and client-death cleanup.
package engine

import (
	"sync"

	"github.com/barnettlynn/seaccess/pkg/ace"
)

// State is a Channel's position in its state machine. Opening is never
// observed outside the engine — a channel is only handed to a caller once
// it reaches Open.
type State int

const (
	StateOpening State = iota
	StateOpen
	StateClosing
	StateClosed
)

// Channel is one open logical or basic channel on a Session. Its mutex
// guards transmit and close sequencing and is held across the full
// GET-RESPONSE loop, per the per-Channel lock granularity in §5.
type Channel struct {
	mu sync.Mutex

	Number  int
	IsBasic bool
	State   State

	AID            []byte
	SelectResponse []byte
	Access         ace.ChannelAccess

	// OwnerPid is the PID of the client process that opened this channel;
	// a later transmit from a different PID is rejected.
	OwnerPid int32
}

func (c *Channel) lock()   { c.mu.Lock() }
func (c *Channel) unlock() { c.mu.Unlock() }

// closed reports whether the channel can no longer be used.
func (c *Channel) closed() bool {
	return c.State == StateClosed || c.State == StateClosing
}
