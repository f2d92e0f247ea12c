package engine

import (
	"context"

	"github.com/barnettlynn/seaccess/pkg/apdu"
	"github.com/barnettlynn/seaccess/pkg/seaerr"
)

// BasicChannelCardAccess implements ace.CardAccess over a Reader's basic
// channel (CLA channel bits always 0), the "sim_alliance" ARF mode from
// spec.md §6: the loader SELECTs and READs exactly like any other basic-
// channel client, just without going through the Client Façade.
type BasicChannelCardAccess struct {
	ctx context.Context
	s   *Session
}

// NewBasicChannelCardAccess builds a CardAccess that issues SELECT/READ
// commands directly on s's Reader, bypassing channel/ACE bookkeeping since
// the loader itself populates the Access Rule Cache those checks consult.
func NewBasicChannelCardAccess(ctx context.Context, s *Session) *BasicChannelCardAccess {
	return &BasicChannelCardAccess{ctx: ctx, s: s}
}

func (a *BasicChannelCardAccess) transmit(cmd apdu.Command) (apdu.Response, error) {
	raw, err := apdu.Encode(cmd)
	if err != nil {
		return apdu.Response{}, err
	}
	out, err := a.s.Reader.Terminal.Transmit(a.ctx, raw)
	if err != nil {
		return apdu.Response{}, &seaerr.DriverIOError{Op: "Transmit(ARF)", Err: err}
	}
	resp, err := apdu.ParseResponse(out)
	if err != nil {
		return apdu.Response{}, &seaerr.MalformedError{Expected: "response with trailing SW", AtOffset: 0}
	}
	if class, extra := apdu.Classify(resp.SW()); class == apdu.ClassGetResponseAvailable {
		getResp := apdu.Command{CLA: cmd.CLA, INS: 0xC0, P1: 0x00, P2: 0x00, HasLe: true, Le: extra}
		return a.transmit(getResp)
	}
	return resp, nil
}

// Transmit sends cmd as-is on the basic channel, draining GET RESPONSE like
// every other call here. Used by secli's diagnostic transmit command, which
// needs arbitrary APDUs rather than SELECT/READ.
func (a *BasicChannelCardAccess) Transmit(cmd apdu.Command) (apdu.Response, error) {
	return a.transmit(cmd)
}

func (a *BasicChannelCardAccess) SelectByAID(aid []byte) ([]byte, error) {
	resp, err := a.transmit(apdu.Command{CLA: 0x00, INS: 0xA4, P1: 0x04, P2: 0x00, Data: aid, HasLe: true, Le: apdu.LeMax})
	if err != nil {
		return nil, err
	}
	if !apdu.IsSuccessLike(resp.SW()) {
		return nil, &seaerr.ReferenceNotFoundError{Reference: "SELECT by AID"}
	}
	return resp.Data, nil
}

func (a *BasicChannelCardAccess) SelectByFID(fid [2]byte) ([]byte, error) {
	resp, err := a.transmit(apdu.Command{CLA: 0x00, INS: 0xA4, P1: 0x00, P2: 0x04, Data: fid[:], HasLe: true, Le: apdu.LeMax})
	if err != nil {
		return nil, err
	}
	if !apdu.IsSuccessLike(resp.SW()) {
		return nil, &seaerr.ReferenceNotFoundError{Reference: "SELECT by FID"}
	}
	return resp.Data, nil
}

func (a *BasicChannelCardAccess) SelectByPath(path []byte) ([]byte, error) {
	resp, err := a.transmit(apdu.Command{CLA: 0x00, INS: 0xA4, P1: 0x08, P2: 0x04, Data: path, HasLe: true, Le: apdu.LeMax})
	if err != nil {
		return nil, err
	}
	if !apdu.IsSuccessLike(resp.SW()) {
		return nil, &seaerr.ReferenceNotFoundError{Reference: "SELECT by path"}
	}
	return resp.Data, nil
}

func (a *BasicChannelCardAccess) ReadBinary(offset, length int) ([]byte, error) {
	p1, p2 := byte(offset>>8), byte(offset)
	resp, err := a.transmit(apdu.Command{CLA: 0x00, INS: 0xB0, P1: p1, P2: p2, HasLe: true, Le: length})
	if err != nil {
		return nil, err
	}
	if !apdu.IsSuccessLike(resp.SW()) {
		return nil, &seaerr.ReferenceNotFoundError{Reference: "READ BINARY"}
	}
	return resp.Data, nil
}

func (a *BasicChannelCardAccess) ReadRecord(recordNum, length int) ([]byte, error) {
	resp, err := a.transmit(apdu.Command{CLA: 0x00, INS: 0xB2, P1: byte(recordNum), P2: 0x04, HasLe: true, Le: length})
	if err != nil {
		return nil, err
	}
	if !apdu.IsSuccessLike(resp.SW()) {
		return nil, &seaerr.ReferenceNotFoundError{Reference: "READ RECORD"}
	}
	return resp.Data, nil
}
