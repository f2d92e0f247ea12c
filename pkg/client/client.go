package client

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/barnettlynn/seaccess/pkg/ace"
	"github.com/barnettlynn/seaccess/pkg/apdu"
	"github.com/barnettlynn/seaccess/pkg/engine"
	"github.com/barnettlynn/seaccess/pkg/reader"
	"github.com/barnettlynn/seaccess/pkg/seaerr"
)

// Handle is an opaque client or channel handle, generated with uuid so a
// leaked handle from one connection is never guessable from another's.
type Handle string

func newHandle() Handle { return Handle(uuid.NewString()) }

type boundChannel struct {
	session *engine.Session
	channel *engine.Channel
}

type clientState struct {
	pid         int32
	packageName string
	certHashes  [][]byte
	channels    map[Handle]*boundChannel
}

// Facade is the Client Façade (C10): it validates external requests,
// resolves caller identity, and drives C5/C6/C9 on the caller's behalf.
type Facade struct {
	registry   *reader.Registry
	failClosed bool

	mu         sync.Mutex
	sessions   map[string]*engine.Session
	clients    map[Handle]*clientState
	shutdown   bool
}

// New builds a Facade over registry. failClosed matches the ace_fail_closed
// configuration flag (§6): when true, an uninitialized Access Rule Cache
// denies every open.
func New(registry *reader.Registry, failClosed bool) *Facade {
	return &Facade{
		registry:   registry,
		failClosed: failClosed,
		sessions:   map[string]*engine.Session{},
		clients:    map[Handle]*clientState{},
	}
}

// Connect registers a new client identity and returns its handle.
func (f *Facade) Connect(pid int32, packageName string, certHashes [][]byte) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.shutdown {
		return "", &seaerr.NotConnectedError{What: "service is shut down"}
	}
	h := newHandle()
	f.clients[h] = &clientState{pid: pid, packageName: packageName, certHashes: certHashes, channels: map[Handle]*boundChannel{}}
	return h, nil
}

// Disconnect closes every channel owned by handle and forgets it. This is
// also what client-death cleanup calls when the OS signals the process is
// gone, per §4.5/§4.10.
func (f *Facade) Disconnect(ctx context.Context, handle Handle) error {
	f.mu.Lock()
	cs, ok := f.clients[handle]
	if !ok {
		f.mu.Unlock()
		return &seaerr.NotConnectedError{What: "unknown client handle"}
	}
	delete(f.clients, handle)
	channels := make([]*boundChannel, 0, len(cs.channels))
	for _, bc := range cs.channels {
		channels = append(channels, bc)
	}
	f.mu.Unlock()

	for _, bc := range channels {
		_ = bc.session.Close(ctx, bc.channel)
	}
	return nil
}

func validateAID(aid []byte) error {
	if len(aid) == 0 {
		return nil
	}
	if len(aid) < 5 || len(aid) > 16 {
		return &seaerr.ParameterError{Field: "aid", Reason: "length must be 5..16 bytes, or empty for the default application"}
	}
	return nil
}

func (f *Facade) sessionFor(ctx context.Context, readerName string) (*engine.Session, *reader.Reader, error) {
	r, err := f.registry.GetReader(readerName)
	if err != nil {
		return nil, nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[readerName]; ok {
		return s, r, nil
	}
	s, err := engine.NewSession(ctx, r)
	if err != nil {
		return nil, nil, err
	}
	f.sessions[readerName] = s
	return s, r, nil
}

func (f *Facade) identityFor(handle Handle) (CallerState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.shutdown {
		return CallerState{}, &seaerr.NotConnectedError{What: "service is shut down"}
	}
	cs, ok := f.clients[handle]
	if !ok {
		return CallerState{}, &seaerr.NotConnectedError{What: "unknown client handle"}
	}
	return CallerState{Pid: cs.pid, PackageName: cs.packageName, CertHashes: cs.certHashes}, nil
}

// CallerState is the identity snapshot used to resolve ACE access.
type CallerState struct {
	Pid         int32
	PackageName string
	CertHashes  [][]byte
}

func (f *Facade) resolveAccess(r *reader.Reader, caller CallerState, aid []byte) ace.ChannelAccess {
	enforcer := ace.NewEnforcer(r.Cache(), f.failClosed)
	return enforcer.SetupChannelAccess(ace.CallerIdentity{Pid: caller.Pid, PackageName: caller.PackageName, CertHashes: caller.CertHashes}, aid)
}

func (f *Facade) bind(handle Handle, session *engine.Session, ch *engine.Channel) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cs, ok := f.clients[handle]
	if !ok {
		return "", &seaerr.NotConnectedError{What: "unknown client handle"}
	}
	ch2 := newHandle()
	cs.channels[ch2] = &boundChannel{session: session, channel: ch}
	return ch2, nil
}

// OpenLogicalChannel validates aid, resolves ACE access, opens a logical
// channel on readerName, and returns its handle.
func (f *Facade) OpenLogicalChannel(ctx context.Context, handle Handle, readerName string, aid []byte, p2 byte) (Handle, error) {
	if err := validateAID(aid); err != nil {
		return "", err
	}
	caller, err := f.identityFor(handle)
	if err != nil {
		return "", err
	}
	session, r, err := f.sessionFor(ctx, readerName)
	if err != nil {
		return "", err
	}
	access := f.resolveAccess(r, caller, aid)
	ch, err := session.OpenLogicalChannel(ctx, aid, p2, access, caller.Pid)
	if err != nil {
		return "", err
	}
	if ch == nil {
		return "", &seaerr.ResourceExhaustedError{Resource: "logical channel"}
	}
	return f.bind(handle, session, ch)
}

// OpenBasicChannel validates aid, resolves ACE access, opens the basic
// channel on readerName, and returns its handle. An empty handle with no
// error means "no channel" per §4.5 (second basic-channel attempt, or
// aid==nil without the default application selected).
func (f *Facade) OpenBasicChannel(ctx context.Context, handle Handle, readerName string, aid []byte) (Handle, error) {
	if err := validateAID(aid); err != nil {
		return "", err
	}
	caller, err := f.identityFor(handle)
	if err != nil {
		return "", err
	}
	session, r, err := f.sessionFor(ctx, readerName)
	if err != nil {
		return "", err
	}
	access := f.resolveAccess(r, caller, aid)
	ch, err := session.OpenBasicChannel(ctx, aid, access, caller.Pid)
	if err != nil {
		return "", err
	}
	if ch == nil {
		return "", nil
	}
	return f.bind(handle, session, ch)
}

// Transmit sends cmd on the channel identified by channelHandle, owned by
// client handle.
func (f *Facade) Transmit(ctx context.Context, handle, channelHandle Handle, cmd apdu.Command) (apdu.Response, error) {
	f.mu.Lock()
	cs, ok := f.clients[handle]
	if !ok {
		f.mu.Unlock()
		return apdu.Response{}, &seaerr.NotConnectedError{What: "unknown client handle"}
	}
	bc, ok := cs.channels[channelHandle]
	f.mu.Unlock()
	if !ok {
		return apdu.Response{}, &seaerr.ChannelClosedError{}
	}
	return bc.session.Transmit(ctx, bc.channel, cmd, cs.pid)
}

// CloseChannel closes a channel owned by handle.
func (f *Facade) CloseChannel(ctx context.Context, handle, channelHandle Handle) error {
	f.mu.Lock()
	cs, ok := f.clients[handle]
	if !ok {
		f.mu.Unlock()
		return &seaerr.NotConnectedError{What: "unknown client handle"}
	}
	bc, ok := cs.channels[channelHandle]
	if ok {
		delete(cs.channels, channelHandle)
	}
	f.mu.Unlock()
	if !ok {
		return nil
	}
	return bc.session.Close(ctx, bc.channel)
}

// Shutdown closes every session's channels, unbinds every reader, and
// rejects every subsequent call with NotConnected.
func (f *Facade) Shutdown(ctx context.Context) {
	f.mu.Lock()
	f.shutdown = true
	clients := f.clients
	f.clients = map[Handle]*clientState{}
	f.mu.Unlock()

	for _, cs := range clients {
		for _, bc := range cs.channels {
			_ = bc.session.Close(ctx, bc.channel)
		}
	}
	f.registry.Shutdown()
}
