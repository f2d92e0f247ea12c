package engine

import (
	"context"

	"github.com/barnettlynn/seaccess/pkg/ace"
	"github.com/barnettlynn/seaccess/pkg/apdu"
	"github.com/barnettlynn/seaccess/pkg/seaerr"
)

// Transmit implements §4.5 "APDU transmit on an Open channel": gating,
// channel-bit rewriting, ENVELOPE chaining when needed, the driver call,
// and the GET-RESPONSE/wrong-Le post-processing loop.
func (s *Session) Transmit(ctx context.Context, ch *Channel, cmd apdu.Command, callerPid int32) (apdu.Response, error) {
	if apdu.IsForbidden(cmd) {
		return apdu.Response{}, &seaerr.ParameterError{Field: "INS/P1", Reason: "forbidden command on client-facing transmit"}
	}
	return s.transmit(ctx, ch, cmd, callerPid)
}

// transmit is Transmit without the forbidden-command gate, so that
// SelectNext can issue its SELECT by DF name.
func (s *Session) transmit(ctx context.Context, ch *Channel, cmd apdu.Command, callerPid int32) (apdu.Response, error) {
	ch.lock()
	defer ch.unlock()

	if ch.closed() {
		return apdu.Response{}, &seaerr.ChannelClosedError{Channel: ch.Number}
	}
	header := [4]byte{cmd.CLA, cmd.INS, cmd.P1, cmd.P2}
	if callerPid != ch.OwnerPid {
		return apdu.Response{}, &seaerr.SecurityDeniedError{Reason: "caller PID does not own this channel"}
	}

	// ACE filter matching is defined over the command with channel bits
	// zeroed, per §4.9.
	unchanneled := [4]byte{apdu.SetChannelBits(header[0], 0), header[1], header[2], header[3]}
	if err := ace.CheckCommand(ch.Access, unchanneled); err != nil {
		return apdu.Response{}, err
	}

	cmd.CLA = apdu.SetChannelBits(cmd.CLA, ch.Number)

	r := s.Reader
	r.Lock()
	defer r.Unlock()

	resp, err := s.transmitAndDrain(ctx, cmd)
	if err != nil {
		return apdu.Response{}, err
	}

	if cmd.INS == 0xA4 && cmd.P1 == 0x04 && ch.IsBasic && apdu.IsSuccessLike(resp.SW()) {
		r.SetDefaultApplicationSelected(false)
	}
	return resp, nil
}

// transmitAndDrain sends cmd and applies the GET-RESPONSE / wrong-Le loop.
// Caller must hold the Reader lock.
func (s *Session) transmitAndDrain(ctx context.Context, cmd apdu.Command) (apdu.Response, error) {
	raw, err := apdu.Encode(cmd)
	if err != nil {
		return apdu.Response{}, err
	}

	if cmd.Extended && needsEnvelope(cmd) {
		chunks := apdu.ChainedEnvelope(cmd.CLA, raw)
		var lastRaw []byte
		for _, chunk := range chunks {
			lastRaw, err = s.Reader.Terminal.Transmit(ctx, chunk)
			if err != nil {
				return apdu.Response{}, &seaerr.DriverIOError{Op: "Transmit(ENVELOPE)", Err: err}
			}
		}
		raw = lastRaw
	} else {
		raw, err = s.Reader.Terminal.Transmit(ctx, raw)
		if err != nil {
			return apdu.Response{}, &seaerr.DriverIOError{Op: "Transmit", Err: err}
		}
	}

	resp, err := apdu.ParseResponse(raw)
	if err != nil {
		return apdu.Response{}, &seaerr.MalformedError{Expected: "response with trailing SW", AtOffset: 0}
	}

	var accumulated []byte
	accumulated = append(accumulated, resp.Data...)

	for {
		class, extra := apdu.Classify(resp.SW())
		switch class {
		case apdu.ClassWrongLe:
			retry := cmd
			retry.HasLe = true
			retry.Le = extra
			retryRaw, err := apdu.Encode(retry)
			if err != nil {
				return apdu.Response{}, err
			}
			out, err := s.Reader.Terminal.Transmit(ctx, retryRaw)
			if err != nil {
				return apdu.Response{}, &seaerr.DriverIOError{Op: "Transmit(retry Le)", Err: err}
			}
			return apdu.ParseResponse(out)

		case apdu.ClassGetResponseAvailable:
			getResp := apdu.Command{CLA: cmd.CLA, INS: 0xC0, P1: 0x00, P2: 0x00, HasLe: true, Le: extra}
			grRaw, err := apdu.Encode(getResp)
			if err != nil {
				return apdu.Response{}, err
			}
			out, err := s.Reader.Terminal.Transmit(ctx, grRaw)
			if err != nil {
				return apdu.Response{}, &seaerr.DriverIOError{Op: "Transmit(GET RESPONSE)", Err: err}
			}
			next, err := apdu.ParseResponse(out)
			if err != nil {
				return apdu.Response{}, &seaerr.MalformedError{Expected: "GET RESPONSE with trailing SW", AtOffset: 0}
			}
			accumulated = append(accumulated, next.Data...)
			resp = next
			continue

		default:
			return apdu.Response{Data: accumulated, SW1: resp.SW1, SW2: resp.SW2}, nil
		}
	}
}

// needsEnvelope reports whether cmd's extended-length form must be chained
// through ENVELOPE because the underlying driver path is short-only. The
// engine currently treats every PCSC-style driver as extended-capable;
// this hook exists for SIM-IO-only drivers added later.
func needsEnvelope(cmd apdu.Command) bool {
	return false
}

// SelectNext implements §4.5 "SELECT NEXT": re-select ch's stored AID with
// P2=0x02. Returns false (no error) when the SE reports no further match.
func (s *Session) SelectNext(ctx context.Context, ch *Channel, callerPid int32) (bool, error) {
	if ch.AID == nil {
		return false, &seaerr.ParameterError{Field: "Channel.AID", Reason: "SELECT NEXT requires a channel with a stored AID"}
	}
	cmd := apdu.Command{CLA: 0x00, INS: 0xA4, P1: 0x04, P2: 0x02, Data: ch.AID, HasLe: true, Le: apdu.LeMax}
	resp, err := s.transmit(ctx, ch, cmd, callerPid)
	if err != nil {
		return false, err
	}

	if resp.SW() == apdu.SWFileNotFound {
		ch.lock()
		ch.SelectResponse = nil
		ch.unlock()
		return false, nil
	}
	if apdu.IsSuccessLike(resp.SW()) {
		ch.lock()
		ch.SelectResponse = resp.Data
		ch.unlock()
		return true, nil
	}
	return false, &seaerr.UnsupportedOperationError{Operation: "SELECT NEXT"}
}
