package terminal

import (
	"context"
	"sync"

	"github.com/barnettlynn/seaccess/pkg/seaerr"
)

// Script maps a hex-encoded command APDU to the raw response the Fake
// terminal returns for it, keyed by the exact bytes transmitted (after
// channel-bit rewriting), letting engine/ACE tests drive a deterministic
// sequence of exchanges without a real Secure Element.
type Script map[string][]byte

// Fake is an in-memory Terminal for engine and ACE tests.
type Fake struct {
	mu sync.Mutex

	ATR         []byte
	CardPresent bool
	Script      Script

	nextChannel  int
	openChannels map[int]bool
	stateCh      chan struct{}

	// SelectResponses maps a hex-encoded AID to the bytes returned on a
	// successful OpenLogicalChannel SELECT.
	SelectResponses map[string][]byte
}

// NewFake builds a Fake terminal with card present and channels 1..19 free.
func NewFake() *Fake {
	return &Fake{
		CardPresent:     true,
		Script:          Script{},
		nextChannel:     1,
		openChannels:    map[int]bool{},
		stateCh:         make(chan struct{}, 1),
		SelectResponses: map[string][]byte{},
	}
}

func (f *Fake) GetATR(ctx context.Context) ([]byte, error) {
	return f.ATR, nil
}

func (f *Fake) IsCardPresent(ctx context.Context) (bool, error) {
	return f.CardPresent, nil
}

func (f *Fake) OpenLogicalChannel(ctx context.Context, aid []byte, p2 byte) (OpenChannelResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.nextChannel > 19 {
		return OpenChannelResult{}, &seaerr.ResourceExhaustedError{Resource: "logical channel"}
	}
	channel := f.nextChannel
	f.nextChannel++
	f.openChannels[channel] = true

	resp := []byte{0x90, 0x00}
	if aid != nil {
		if r, ok := f.SelectResponses[hexKey(aid)]; ok {
			resp = r
		} else {
			delete(f.openChannels, channel)
			f.nextChannel--
			return OpenChannelResult{}, &seaerr.ReferenceNotFoundError{Reference: "AID not found"}
		}
	}
	return OpenChannelResult{ChannelNumber: channel, SelectResponse: resp}, nil
}

func (f *Fake) CloseLogicalChannel(ctx context.Context, channelNumber int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.openChannels, channelNumber)
	return nil
}

func (f *Fake) Transmit(ctx context.Context, apduBytes []byte) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if resp, ok := f.Script[hexKey(apduBytes)]; ok {
		return resp, nil
	}
	return []byte{0x6A, 0x88}, nil // REF_NOT_FOUND default
}

func (f *Fake) SimIOExchange(ctx context.Context, fileID int, path []byte, command []byte) ([]byte, error) {
	return nil, &seaerr.UnsupportedOperationError{Operation: "SIM-IO exchange"}
}

func (f *Fake) SEStateChanged() <-chan struct{} {
	return f.stateCh
}

func (f *Fake) Close() error {
	return nil
}

// TriggerStateChange signals an SE insert/remove/reset event to listeners.
func (f *Fake) TriggerStateChange() {
	select {
	case f.stateCh <- struct{}{}:
	default:
	}
}

func hexKey(b []byte) string {
	const digits = "0123456789ABCDEF"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = digits[c>>4]
		out[i*2+1] = digits[c&0x0F]
	}
	return string(out)
}
