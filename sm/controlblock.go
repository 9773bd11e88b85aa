package sm

import (
	"github.com/pkg/errors"

	"github.com/blelabs/blehost"
)

// controlBlock is one arena slot of per connection security state. Slots
// are acquired when a link opens and zeroed when it closes.
type controlBlock struct {
	inUse bool

	conn     blehost.ConnHandle
	role     blehost.Role
	addrType blehost.AddrType
	addr     blehost.Addr
	db       blehost.EntryHandle

	// link state
	encrypted           bool
	authenticated       bool
	scPaired            bool
	encryptionRequested bool
	encryptionFailed    bool
	encryptionMITM      bool

	// pairing state
	pairingInProgress    bool
	initiator            bool
	legacyPairing        bool
	mitmRequested        bool
	mitmPerformed        bool
	authorisationPending bool

	// negotiated / offered key distribution
	peerInitDist blehost.KeyDistribution
	peerRespDist blehost.KeyDistribution
	peerOOB      bool
	peerAuth     blehost.AuthMask

	// signing
	signingRequested bool
	csrkStored       bool
	csrkMITM         bool
	csrkFailures     uint8

	// out of band
	attemptOOB       bool
	oobMITM          bool
	legacyOOBTK      [16]byte
	haveLegacyOOBTK  bool
	legacyOOBPending bool
}

// acquire claims a free slot for a new link and opens its database entry.
func (e *Engine) acquire(h blehost.ConnHandle, role blehost.Role, addrType blehost.AddrType, addr blehost.Addr) (*controlBlock, error) {
	if _, err := e.cbByConn(h); err == nil {
		return nil, errors.Wrapf(blehost.ErrInvalidState, "connection %d already tracked", h)
	}
	for i := range e.cbs {
		cb := &e.cbs[i]
		if cb.inUse {
			continue
		}
		*cb = controlBlock{
			inUse:    true,
			conn:     h,
			role:     role,
			addrType: addrType,
			addr:     addr,
			db:       e.db.OpenEntry(addrType, addr),
		}
		e.seedFromBond(cb)
		return cb, nil
	}
	return nil, errors.Wrap(blehost.ErrNoMemory, "control block arena exhausted")
}

// seedFromBond primes the slot from persisted bond state.
func (e *Engine) seedFromBond(cb *controlBlock) {
	flags, ok := e.db.Flags(cb.db)
	if !ok {
		return
	}
	cb.scPaired = flags.SecureConnections
	cb.csrkStored = flags.CSRKStored
	cb.csrkMITM = flags.CSRKMITMProtected
}

// release zeroes a slot and closes its database entry, persisting it when
// key material was stored.
func (e *Engine) release(cb *controlBlock) {
	bonded := false
	if flags, ok := e.db.Flags(cb.db); ok {
		bonded = flags.LTKStored || flags.CSRKStored || flags.IRKStored
	}
	e.db.CloseEntry(cb.db, bonded)
	*cb = controlBlock{}
}

func (e *Engine) cbByConn(h blehost.ConnHandle) (*controlBlock, error) {
	for i := range e.cbs {
		if e.cbs[i].inUse && e.cbs[i].conn == h {
			return &e.cbs[i], nil
		}
	}
	return nil, errors.Wrapf(blehost.ErrInvalidParameter, "unknown connection %d", h)
}

func (e *Engine) cbByAddr(addrType blehost.AddrType, addr blehost.Addr) (*controlBlock, error) {
	for i := range e.cbs {
		if e.cbs[i].inUse && e.cbs[i].addrType == addrType && e.cbs[i].addr == addr {
			return &e.cbs[i], nil
		}
	}
	return nil, errors.Wrapf(blehost.ErrInvalidParameter, "no connection for %s", addr)
}

func (e *Engine) cbByDBEntry(h blehost.EntryHandle) (*controlBlock, error) {
	for i := range e.cbs {
		if e.cbs[i].inUse && e.cbs[i].db == h {
			return &e.cbs[i], nil
		}
	}
	return nil, errors.Wrapf(blehost.ErrInvalidParameter, "no connection for entry %d", h)
}

// ConnectionOpened claims security state for a new link. Wired as the gap
// engine's connection observer.
func (e *Engine) ConnectionOpened(ev blehost.ConnectionCompleteEvent) {
	if _, err := e.acquire(ev.Handle, ev.Role, ev.PeerAddrType, ev.PeerAddr); err != nil {
		e.log.Errorf("security state for connection %d: %v", ev.Handle, err)
	}
}

// ConnectionClosed releases the link's security state.
func (e *Engine) ConnectionClosed(h blehost.ConnHandle) {
	cb, err := e.cbByConn(h)
	if err != nil {
		return
	}
	e.release(cb)
}

// UnresolvedPeerConnected escalates security on a link whose peer used an
// unresolved resolvable address, per the peripheral privacy policy: demand
// pairing, or authenticated pairing.
func (e *Engine) UnresolvedPeerConnected(h blehost.ConnHandle, authenticate bool) {
	cb, err := e.cbByConn(h)
	if err != nil {
		e.log.Errorf("unresolved peer on unknown connection %d", h)
		return
	}
	auth := e.defaultAuth.WithMITM(authenticate)
	cb.mitmRequested = authenticate

	if cb.role == blehost.RolePeripheral {
		if err := e.ctrl.PeripheralSecurityRequest(h, auth); err != nil {
			e.log.Errorf("security request on %d: %v", h, err)
		}
		return
	}
	if err := e.RequestPairing(h); err != nil {
		e.log.Errorf("pairing request on %d: %v", h, err)
	}
}
