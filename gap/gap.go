// Package gap implements the connection and advertising engine: device
// identity, advertising set lifecycle, scanning, connection establishment
// and maintenance, whitelist policy and privacy driven address rotation.
package gap

import (
	"github.com/pkg/errors"

	"github.com/blelabs/blehost"
)

// ConnectionObserver is notified about link lifecycle so the security
// engine can manage its per-connection state. Calls arrive on the dispatch
// queue.
type ConnectionObserver interface {
	ConnectionOpened(ev blehost.ConnectionCompleteEvent)
	ConnectionClosed(h blehost.ConnHandle)

	// UnresolvedPeerConnected fires when peripheral privacy policy demands
	// pairing or authentication for a peer that connected with an
	// unresolved resolvable address.
	UnresolvedPeerConnected(h blehost.ConnHandle, authenticate bool)
}

// Connection is the engine's record of one live link.
type Connection struct {
	Handle       blehost.ConnHandle
	Role         blehost.Role
	PeerAddrType blehost.AddrType
	PeerAddr     blehost.Addr

	LocalResolvableAddr blehost.Addr
	PeerResolvableAddr  blehost.Addr

	Interval           uint16
	Latency            uint16
	SupervisionTimeout uint16
	TxPHY              blehost.PHY
	RxPHY              blehost.PHY

	// set by peripheral privacy policy before the app is notified
	suppressed bool
}

// Engine owns the advertising, scanning and connection state machines. All
// methods and controller event handlers must run on the dispatch queue,
// the engine holds no internal locks.
type Engine struct {
	ctrl  blehost.Controller
	queue *blehost.Queue
	log   blehost.Logger

	handler  blehost.Handler
	observer ConnectionObserver

	addrType         blehost.AddrType // Public or RandomStatic
	randomStaticAddr blehost.Addr

	sets    []advSet
	maxSets int

	scan scanState

	connecting  bool
	connections map[blehost.ConnHandle]*Connection

	whitelist []blehost.WhitelistEntry

	privacy privacyState

	manageConnParamsRequests bool
}

type scanState struct {
	params  blehost.ScanParams
	active  bool
	period  uint16 // 1.28 s units
	filter  blehost.DuplicatesFilter
	timer   *blehost.Timer
	privacy bool // scan holds the rotation enable
}

// Option configures an Engine.
type Option func(*Engine) error

// WithHandler registers the application event handler. There is a single
// slot, a later call replaces the previous handler.
func WithHandler(h blehost.Handler) Option {
	return func(e *Engine) error {
		if h == nil {
			return errors.Wrap(blehost.ErrInvalidParameter, "nil handler")
		}
		e.handler = h
		return nil
	}
}

// WithConnectionObserver wires the security engine's link lifecycle hook.
func WithConnectionObserver(o ConnectionObserver) Option {
	return func(e *Engine) error {
		e.observer = o
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

// WithManagedConnectionParameters opts the application into manual handling
// of peer connection parameter update requests. Without it the engine
// auto-accepts.
func WithManagedConnectionParameters() Option {
	return func(e *Engine) error {
		e.manageConnParamsRequests = true
		return nil
	}
}

// New builds an engine bound to a controller and dispatch queue. Set
// capacity and data maxima are read from the controller once, they are
// fixed for the process lifetime.
func New(ctrl blehost.Controller, q *blehost.Queue, opts ...Option) (*Engine, error) {
	if ctrl == nil || q == nil {
		return nil, errors.Wrap(blehost.ErrInvalidParameter, "nil controller or queue")
	}

	e := &Engine{
		ctrl:        ctrl,
		queue:       q,
		log:         blehost.GetLogger().ChildLogger(map[string]interface{}{"engine": "gap"}),
		handler:     blehost.NopHandler{},
		addrType:    blehost.AddrTypePublic,
		connections: make(map[blehost.ConnHandle]*Connection),
	}

	e.maxSets = int(ctrl.MaxAdvertisingSets())
	if e.maxSets < 1 {
		e.maxSets = 1
	}
	e.sets = make([]advSet, e.maxSets)
	// the legacy set always exists
	e.sets[blehost.LegacyAdvHandle].exists = true
	e.sets[blehost.LegacyAdvHandle].params = blehost.DefaultAdvParams()

	e.scan.params = blehost.DefaultScanParams()

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

// SetRandomStaticAddress installs a random static device address. The
// address must classify as random static.
func (e *Engine) SetRandomStaticAddress(a blehost.Addr) error {
	if !blehost.IsRandomStaticAddr(a) {
		return errors.Wrapf(blehost.ErrInvalidParameter, "%s is not a random static address", a)
	}
	if err := e.ctrl.SetRandomAddress(a); err != nil {
		return errors.Wrap(err, "set random address")
	}
	e.addrType = blehost.AddrTypeRandomStatic
	e.randomStaticAddr = a
	e.log.Debugf("random static address set to %s", a)
	return nil
}

// Address returns the current device address and its type: the controller
// public address, or the configured random static address.
func (e *Engine) Address() (blehost.AddrType, blehost.Addr) {
	if e.addrType == blehost.AddrTypeRandomStatic {
		return blehost.AddrTypeRandomStatic, e.randomStaticAddr
	}
	return blehost.AddrTypePublic, e.ctrl.DeviceAddress()
}

// Connection returns the record of a live link.
func (e *Engine) Connection(h blehost.ConnHandle) (*Connection, bool) {
	c, ok := e.connections[h]
	return c, ok
}

// ConnectionCount returns the number of live links.
func (e *Engine) ConnectionCount() int {
	return len(e.connections)
}

// Reset stops every running activity and returns the engine to its
// post-construction state. Live connections are left alone.
func (e *Engine) Reset() error {
	for i := range e.sets {
		s := &e.sets[i]
		if !s.exists {
			continue
		}
		if s.periodicActive {
			if err := e.ctrl.PeriodicAdvertisingEnable(s.handle(), false); err != nil {
				e.log.Warnf("reset: stop periodic set %d: %v", i, err)
			}
		}
		if s.active {
			if err := e.ctrl.AdvertisingEnable(s.handle(), false, 0, 0); err != nil {
				e.log.Warnf("reset: stop set %d: %v", i, err)
			}
		}
		*s = advSet{}
	}
	if err := e.ctrl.ClearAdvertisingSets(); err != nil {
		e.log.Warnf("reset: clear advertising sets: %v", err)
	}
	e.sets[blehost.LegacyAdvHandle].exists = true
	e.sets[blehost.LegacyAdvHandle].params = blehost.DefaultAdvParams()

	if e.scan.active {
		if err := e.stopScan(); err != nil {
			e.log.Warnf("reset: stop scan: %v", err)
		}
	}
	e.disableRotation()
	return nil
}
