package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/barnettlynn/seaccess/pkg/ace"
	"github.com/barnettlynn/seaccess/pkg/apdu"
	"github.com/barnettlynn/seaccess/pkg/reader"
	"github.com/barnettlynn/seaccess/pkg/seaerr"
)

// Session is bound to one Reader for the lifetime of its ATR: a card reset
// invalidates the Session and every Channel on it.
type Session struct {
	Reader *reader.Reader
	ATR    []byte

	mu       sync.Mutex
	channels []*Channel
}

// NewSession fetches the current ATR and returns a fresh Session for r.
func NewSession(ctx context.Context, r *reader.Reader) (*Session, error) {
	atr, err := r.Terminal.GetATR(ctx)
	if err != nil {
		return nil, &seaerr.DriverIOError{Op: "GetATR", Err: err}
	}
	return &Session{Reader: r, ATR: atr}, nil
}

func (s *Session) register(ch *Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels = append(s.channels, ch)
}

func (s *Session) unregister(ch *Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.channels {
		if c == ch {
			s.channels = append(s.channels[:i], s.channels[i+1:]...)
			return
		}
	}
}

// Channels returns a snapshot of currently registered channels.
func (s *Session) Channels() []*Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Channel, len(s.channels))
	copy(out, s.channels)
	return out
}

// OpenLogicalChannel implements §4.5 "Opening a logical channel". access
// must already be resolved by C9 (ace.Enforcer.SetupChannelAccess); a
// DENIED access fails the open before any driver call is made.
func (s *Session) OpenLogicalChannel(ctx context.Context, aid []byte, p2 byte, access ace.ChannelAccess, ownerPid int32) (*Channel, error) {
	if access.Access == ace.AccessDenied {
		return nil, &seaerr.SecurityDeniedError{Reason: access.Reason}
	}

	r := s.Reader
	r.Lock()
	defer r.Unlock()

	result, err := r.Terminal.OpenLogicalChannel(ctx, aid, p2)
	if err != nil {
		return nil, &seaerr.DriverIOError{Op: "OpenLogicalChannel", Err: err}
	}

	ch := &Channel{
		Number:         result.ChannelNumber,
		State:          StateOpen,
		AID:            aid,
		SelectResponse: result.SelectResponse,
		Access:         access,
		OwnerPid:       ownerPid,
	}
	s.register(ch)
	return ch, nil
}

// OpenBasicChannel implements §4.5 "Opening the basic channel". aid == nil
// requires the Reader's default-application-selected flag already be true;
// otherwise nil, nil is returned (no error — "no channel" per spec).
func (s *Session) OpenBasicChannel(ctx context.Context, aid []byte, access ace.ChannelAccess, ownerPid int32) (*Channel, error) {
	if access.Access == ace.AccessDenied {
		return nil, &seaerr.SecurityDeniedError{Reason: access.Reason}
	}

	r := s.Reader
	r.Lock()
	defer r.Unlock()

	if r.BasicChannelInUse() {
		return nil, nil
	}

	if aid == nil {
		if !r.DefaultApplicationSelected() {
			return nil, nil
		}
		ch := &Channel{Number: 0, IsBasic: true, State: StateOpen, Access: access, OwnerPid: ownerPid}
		r.SetBasicChannelInUse(true)
		s.register(ch)
		return ch, nil
	}

	cmd := apdu.Command{CLA: 0x00, INS: 0xA4, P1: 0x04, P2: 0x00, Data: aid, HasLe: true, Le: apdu.LeMax}
	raw, err := apdu.Encode(cmd)
	if err != nil {
		return nil, err
	}
	rawResp, err := r.Terminal.Transmit(ctx, raw)
	if err != nil {
		return nil, &seaerr.DriverIOError{Op: "Transmit(SELECT basic)", Err: err}
	}
	resp, err := apdu.ParseResponse(rawResp)
	if err != nil {
		return nil, &seaerr.MalformedError{Expected: "SELECT response with trailing SW", AtOffset: 0}
	}
	if !apdu.IsSuccessLike(resp.SW()) {
		return nil, &seaerr.ReferenceNotFoundError{Reference: "basic-channel SELECT by AID"}
	}

	r.SetDefaultApplicationSelected(false)
	r.SetBasicChannelInUse(true)
	ch := &Channel{Number: 0, IsBasic: true, State: StateOpen, AID: aid, SelectResponse: resp.Data, Access: access, OwnerPid: ownerPid}
	s.register(ch)
	return ch, nil
}

// Close implements channel close: idempotent, best-effort on the driver
// side, and always releases bookkeeping state.
func (s *Session) Close(ctx context.Context, ch *Channel) error {
	ch.lock()
	defer ch.unlock()
	if ch.closed() {
		return nil
	}
	ch.State = StateClosing

	r := s.Reader
	r.Lock()
	if ch.IsBasic {
		s.deselectBasicChannel(ctx, r)
		r.SetBasicChannelInUse(false)
	} else {
		_ = r.Terminal.CloseLogicalChannel(ctx, ch.Number)
	}
	r.Unlock()

	ch.State = StateClosed
	s.unregister(ch)
	return nil
}

// deselectBasicChannel sends a best-effort SELECT of the default
// application (an empty-data SELECT, which returns the SE to its default
// context) before the basic channel is released, per §5: "close is
// best-effort deselection ... failure is logged not surfaced." r must
// already be locked by the caller.
func (s *Session) deselectBasicChannel(ctx context.Context, r *reader.Reader) {
	raw, err := apdu.Encode(apdu.Command{CLA: 0x00, INS: 0xA4, P1: 0x00, P2: 0x0C})
	if err != nil {
		slog.Warn("basic channel deselect: encode failed", "reader", r.Name, "err", err)
		return
	}
	rawResp, err := r.Terminal.Transmit(ctx, raw)
	if err != nil {
		slog.Warn("basic channel deselect failed", "reader", r.Name, "err", err)
		return
	}
	resp, err := apdu.ParseResponse(rawResp)
	if err != nil || !apdu.IsSuccessLike(resp.SW()) {
		slog.Warn("basic channel deselect rejected", "reader", r.Name, "err", err)
		return
	}
	r.SetDefaultApplicationSelected(true)
}

// CloseAllFor closes every channel owned by pid — used for client-death
// cleanup, per §4.5 and §5.
func (s *Session) CloseAllFor(ctx context.Context, pid int32) {
	for _, ch := range s.Channels() {
		if ch.OwnerPid == pid {
			_ = s.Close(ctx, ch)
		}
	}
}
