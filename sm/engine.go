// Package sm implements the pairing and key distribution engine: the per
// connection authentication state machine, encryption enable and refresh,
// the signing key lifecycle and bonding state persistence.
package sm

import (
	"github.com/pkg/errors"

	"github.com/blelabs/blehost"
)

const (
	defaultControlBlocks = 5

	minEncryptionKeySize = 7
	maxEncryptionKeySize = 16
)

// Resolver is the slice of the controller surface the engine needs to keep
// the resolving list in sync with the bond table.
type Resolver interface {
	AddResolvingListEntry(peerType blehost.AddrType, peer blehost.Addr, irk blehost.IRK) error
	RemoveResolvingListEntry(peerType blehost.AddrType, peer blehost.Addr) error
	ClearResolvingList() error
	ResolvingListCapacity() int
}

// Engine owns pairing, encryption and key distribution across all links.
// All methods and event handlers must run on the dispatch queue.
type Engine struct {
	ctrl  blehost.SecurityController
	db    blehost.SecurityDB
	queue *blehost.Queue
	log   blehost.Logger

	handler  blehost.Handler
	resolver Resolver

	cbs []controlBlock

	initialized bool
	scSupported bool

	defaultAuth blehost.AuthMask
	defaultDist blehost.KeyDistribution

	ioCap          blehost.IOCapability
	displayPasskey blehost.Passkey
	hasDisplayKey  bool

	legacyAllowed         bool
	authorisationRequired bool
	hintRoleReversal      bool
	keypressEnabled       bool

	minKeySize uint8
	maxKeySize uint8

	oob oobState

	preserveBondsOnReset bool
}

// Option configures an Engine.
type Option func(*Engine) error

// WithHandler registers the application event handler.
func WithHandler(h blehost.Handler) Option {
	return func(e *Engine) error {
		if h == nil {
			return errors.Wrap(blehost.ErrInvalidParameter, "nil handler")
		}
		e.handler = h
		return nil
	}
}

// WithLogger overrides the package logger for this engine.
func WithLogger(l blehost.Logger) Option {
	return func(e *Engine) error {
		if l == nil {
			return errors.Wrap(blehost.ErrInvalidParameter, "nil logger")
		}
		e.log = l
		return nil
	}
}

// WithResolver wires the controller resolving list so bonded identities
// are rehydrated on init and refreshed after pairing.
func WithResolver(r Resolver) Option {
	return func(e *Engine) error {
		e.resolver = r
		return nil
	}
}

// WithMaxConnections sizes the per connection state arena.
func WithMaxConnections(n int) Option {
	return func(e *Engine) error {
		if n < 1 {
			return errors.Wrap(blehost.ErrInvalidParameter, "max connections below 1")
		}
		e.cbs = make([]controlBlock, n)
		return nil
	}
}

// New builds an engine bound to a security controller and database.
func New(ctrl blehost.SecurityController, db blehost.SecurityDB, q *blehost.Queue, opts ...Option) (*Engine, error) {
	if ctrl == nil || db == nil || q == nil {
		return nil, errors.Wrap(blehost.ErrInvalidParameter, "nil controller, database or queue")
	}

	e := &Engine{
		ctrl:          ctrl,
		db:            db,
		queue:         q,
		log:           blehost.GetLogger().ChildLogger(map[string]interface{}{"engine": "sm"}),
		handler:       blehost.NopHandler{},
		cbs:           make([]controlBlock, defaultControlBlocks),
		legacyAllowed: true,
		minKeySize:    minEncryptionKeySize,
		maxKeySize:    maxEncryptionKeySize,
	}

	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// SetHandler replaces the registered application handler.
func (e *Engine) SetHandler(h blehost.Handler) {
	if h == nil {
		h = blehost.NopHandler{}
	}
	e.handler = h
}

// Init seeds the engine: secure connections support is probed, the default
// authentication mask and key distribution are derived from it, the
// controller security block is initialized and the resolving list is
// rehydrated from the bond table.
func (e *Engine) Init() error {
	if e.initialized {
		return errors.Wrap(blehost.ErrInvalidState, "already initialized")
	}
	if err := e.ctrl.InitializeSecurity(); err != nil {
		return errors.Wrap(err, "initialize security")
	}

	e.scSupported = e.ctrl.SecureConnectionsSupported()
	e.defaultAuth = blehost.AuthMask(0).
		WithBondable(true).
		WithSecureConnections(e.scSupported)
	e.defaultDist = blehost.KeyDistAll.WithLink(false)

	if err := e.ctrl.SetIOCapability(e.ioCap); err != nil {
		return errors.Wrap(err, "set io capability")
	}
	if err := e.ctrl.SetEncryptionKeyRequirements(e.minKeySize, e.maxKeySize); err != nil {
		return errors.Wrap(err, "set key requirements")
	}

	e.rehydrateResolvingList()

	e.initialized = true
	return nil
}

// rehydrateResolvingList pushes every bonded identity holding an IRK into
// the controller resolving list, capped at its capacity.
func (e *Engine) rehydrateResolvingList() {
	if e.resolver == nil {
		return
	}
	ids := e.db.IdentityList(e.resolver.ResolvingListCapacity())
	for _, id := range ids {
		t := blehost.AddrTypeRandomStatic
		if id.PeerAddrIsPublic {
			t = blehost.AddrTypePublic
		}
		if err := e.resolver.AddResolvingListEntry(t, id.PeerAddr, id.IRK); err != nil {
			e.log.Warnf("resolving list entry for %s: %v", id.PeerAddr, err)
		}
	}
}

// Reset drops all per connection state and reinitializes the controller
// security block. Bonds survive unless PreserveBondingStateOnReset was
// turned off.
func (e *Engine) Reset() error {
	for i := range e.cbs {
		e.cbs[i] = controlBlock{}
	}
	if !e.preserveBondsOnReset {
		e.db.Clear()
		if e.resolver != nil {
			if err := e.resolver.ClearResolvingList(); err != nil {
				e.log.Warnf("clear resolving list: %v", err)
			}
		}
	}
	e.initialized = false
	return errors.Wrap(e.ctrl.ResetSecurity(), "reset security")
}

// PreserveBondingStateOnReset decides whether Reset keeps the bond table.
func (e *Engine) PreserveBondingStateOnReset(preserve bool) {
	e.preserveBondsOnReset = preserve
}

// PurgeAllBondingState erases every bond and the controller resolving
// list.
func (e *Engine) PurgeAllBondingState() error {
	e.db.Clear()
	if e.resolver != nil {
		if err := e.resolver.ClearResolvingList(); err != nil {
			return errors.Wrap(err, "clear resolving list")
		}
	}
	return nil
}

// GenerateWhitelistFromBondTable enumerates bonded identity addresses and
// delivers them asynchronously through the event handler.
func (e *Engine) GenerateWhitelistFromBondTable() error {
	entries := e.db.BondedDevices()
	e.queue.Post(func() {
		e.handler.OnWhitelistFromBondTable(entries)
	})
	return nil
}

// SecureConnectionsSupported reports the probed controller capability.
// Valid after Init.
func (e *Engine) SecureConnectionsSupported() bool {
	return e.scSupported
}

// SetIOCapability declares the local input/output means used during
// pairing.
func (e *Engine) SetIOCapability(io blehost.IOCapability) error {
	if io > blehost.IOKeyboardDisplay {
		return errors.Wrap(blehost.ErrInvalidParameter, "unknown io capability")
	}
	e.ioCap = io
	if !e.initialized {
		return nil
	}
	return errors.Wrap(e.ctrl.SetIOCapability(io), "set io capability")
}

// SetDisplayPasskey fixes the passkey shown on a display capable device.
func (e *Engine) SetDisplayPasskey(pk blehost.Passkey) error {
	if pk > 999999 {
		return errors.Wrap(blehost.ErrInvalidParameter, "passkey above 999999")
	}
	e.displayPasskey = pk
	e.hasDisplayKey = true
	return errors.Wrap(e.ctrl.SetDisplayPasskey(pk), "set display passkey")
}

// SetAuthenticationTimeout changes the pairing timeout of a link, in
// milliseconds.
func (e *Engine) SetAuthenticationTimeout(h blehost.ConnHandle, ms uint32) error {
	if _, err := e.cbByConn(h); err != nil {
		return err
	}
	return errors.Wrap(e.ctrl.SetAuthenticationTimeout(h, ms), "set authentication timeout")
}

// SetEncryptionKeyRequirements bounds the negotiated encryption key size.
func (e *Engine) SetEncryptionKeyRequirements(min, max uint8) error {
	if min < minEncryptionKeySize || max > maxEncryptionKeySize || min > max {
		return errors.Wrap(blehost.ErrInvalidParameter, "key size bounds out of range")
	}
	e.minKeySize = min
	e.maxKeySize = max
	if !e.initialized {
		return nil
	}
	return errors.Wrap(e.ctrl.SetEncryptionKeyRequirements(min, max), "set key requirements")
}

// EncryptionKeySize returns the negotiated key size of a link's bond.
func (e *Engine) EncryptionKeySize(h blehost.ConnHandle) (uint8, error) {
	cb, err := e.cbByConn(h)
	if err != nil {
		return 0, err
	}
	flags, ok := e.db.Flags(cb.db)
	if !ok || !flags.LTKStored {
		return 0, errors.Wrapf(blehost.ErrInvalidState, "no key material for connection %d", h)
	}
	return flags.EncryptionKeySize, nil
}

// AllowLegacyPairing permits or forbids pairing with peers that cannot do
// secure connections.
func (e *Engine) AllowLegacyPairing(allow bool) {
	e.legacyAllowed = allow
}

// SetPairingRequestAuthorisation routes incoming pairing requests through
// the application instead of auto-accepting.
func (e *Engine) SetPairingRequestAuthorisation(required bool) {
	e.authorisationRequired = required
}

// SetHintFutureRoleReversal makes the central distribute its full key set
// so the roles can swap on a future reconnection.
func (e *Engine) SetHintFutureRoleReversal(hint bool) {
	e.hintRoleReversal = hint
}

// SetKeypressNotification opts passkey entry progress notifications in or
// out of the negotiated authentication mask.
func (e *Engine) SetKeypressNotification(enabled bool) {
	e.keypressEnabled = enabled
}
