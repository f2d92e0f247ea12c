package terminal

import (
	"context"
	"fmt"
	"sync"

	"github.com/ebfe/scard"

	"github.com/barnettlynn/seaccess/pkg/apdu"
	"github.com/barnettlynn/seaccess/pkg/seaerr"
)

// PCSC is a Terminal backed by a PC/SC reader, grounded on the
// Connect/Transmit/Close pattern of the teacher's Connection wrapper. txMu
// serializes every Transmit to the card, since a PC/SC card handle is not
// safe for concurrent use and the engine relies on APDUs to the same
// Reader being totally ordered (§5).
type PCSC struct {
	ctx    *scard.Context
	card   *scard.Card
	reader string

	txMu  sync.Mutex
	watch chan struct{}
	stop  chan struct{}
}

// OpenPCSC connects to readerName in shared mode, with any protocol.
func OpenPCSC(readerName string) (*PCSC, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, &seaerr.DriverIOError{Op: "EstablishContext", Err: err}
	}
	card, err := ctx.Connect(readerName, scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		ctx.Release()
		return nil, &seaerr.DriverIOError{Op: "Connect", Err: err}
	}

	p := &PCSC{
		ctx:    ctx,
		card:   card,
		reader: readerName,
		watch:  make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
	go p.watchLoop()
	return p, nil
}

func (p *PCSC) watchLoop() {
	states := []scard.ReaderState{{Reader: p.reader, CurrentState: scard.StateUnaware}}
	for {
		select {
		case <-p.stop:
			return
		default:
		}
		if err := p.ctx.GetStatusChange(states, -1); err != nil {
			return
		}
		select {
		case p.watch <- struct{}{}:
		default:
		}
		states[0].CurrentState = states[0].EventState
	}
}

func (p *PCSC) GetATR(ctx context.Context) ([]byte, error) {
	status, err := p.card.Status()
	if err != nil {
		return nil, &seaerr.DriverIOError{Op: "Status", Err: err}
	}
	if len(status.Atr) == 0 {
		return nil, nil
	}
	return status.Atr, nil
}

func (p *PCSC) IsCardPresent(ctx context.Context) (bool, error) {
	_, err := p.card.Status()
	return err == nil, nil
}

// OpenLogicalChannel issues MANAGE CHANNEL (open) to obtain a channel
// number, then optionally SELECTs aid on it.
func (p *PCSC) OpenLogicalChannel(ctx context.Context, aid []byte, p2 byte) (OpenChannelResult, error) {
	manageOpen, err := apdu.Encode(apdu.Command{CLA: 0x00, INS: 0x70, P1: 0x00, P2: 0x00, HasLe: true, Le: 1})
	if err != nil {
		return OpenChannelResult{}, err
	}
	raw, err := p.Transmit(ctx, manageOpen)
	if err != nil {
		return OpenChannelResult{}, err
	}
	resp, err := apdu.ParseResponse(raw)
	if err != nil {
		return OpenChannelResult{}, &seaerr.MalformedError{Expected: "MANAGE CHANNEL response", AtOffset: 0}
	}
	if resp.SW() != apdu.SWOK || len(resp.Data) < 1 {
		return OpenChannelResult{}, &seaerr.ResourceExhaustedError{Resource: "logical channel"}
	}
	channel := int(resp.Data[0])

	if aid == nil {
		return OpenChannelResult{ChannelNumber: channel}, nil
	}

	cla := apdu.SetChannelBits(0x00, channel)
	selectCmd, err := apdu.Encode(apdu.Command{CLA: cla, INS: 0xA4, P1: 0x04, P2: p2, Data: aid, HasLe: true, Le: apdu.LeMax})
	if err != nil {
		return OpenChannelResult{}, err
	}
	selRaw, err := p.Transmit(ctx, selectCmd)
	if err != nil {
		return OpenChannelResult{}, err
	}
	selResp, err := apdu.ParseResponse(selRaw)
	if err != nil {
		return OpenChannelResult{}, &seaerr.MalformedError{Expected: "SELECT response", AtOffset: 0}
	}
	if !apdu.IsSuccessLike(selResp.SW()) {
		_ = p.CloseLogicalChannel(ctx, channel)
		return OpenChannelResult{}, &seaerr.ReferenceNotFoundError{Reference: fmt.Sprintf("AID %x", aid)}
	}

	return OpenChannelResult{ChannelNumber: channel, SelectResponse: selRaw}, nil
}

func (p *PCSC) CloseLogicalChannel(ctx context.Context, channelNumber int) error {
	cmd, err := apdu.Encode(apdu.Command{CLA: 0x00, INS: 0x70, P1: 0x80, P2: byte(channelNumber)})
	if err != nil {
		return err
	}
	_, err = p.Transmit(ctx, cmd)
	return err
}

func (p *PCSC) Transmit(ctx context.Context, raw []byte) ([]byte, error) {
	p.txMu.Lock()
	defer p.txMu.Unlock()
	out, err := p.card.Transmit(raw)
	if err != nil {
		return nil, &seaerr.DriverIOError{Op: "Transmit", Err: err}
	}
	return out, nil
}

func (p *PCSC) SimIOExchange(ctx context.Context, fileID int, path []byte, command []byte) ([]byte, error) {
	return nil, &seaerr.UnsupportedOperationError{Operation: "SIM-IO exchange"}
}

func (p *PCSC) SEStateChanged() <-chan struct{} {
	return p.watch
}

func (p *PCSC) Close() error {
	close(p.stop)
	if p.card != nil {
		_ = p.card.Disconnect(scard.LeaveCard)
	}
	if p.ctx != nil {
		_ = p.ctx.Release()
	}
	return nil
}

// ListReaders enumerates PC/SC reader names, grounded on the teacher's
// ctx.ListReaders() usage in ro/main.go.
func ListReaders() ([]string, error) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		return nil, &seaerr.DriverIOError{Op: "EstablishContext", Err: err}
	}
	defer ctx.Release()
	readers, err := ctx.ListReaders()
	if err != nil {
		return nil, &seaerr.DriverIOError{Op: "ListReaders", Err: err}
	}
	return readers, nil
}
