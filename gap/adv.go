package gap

import (
	"github.com/pkg/errors"

	"github.com/blelabs/blehost"
)

// advSet is one slot of the advertising set arena. Slot index is the set
// handle.
type advSet struct {
	h      blehost.AdvHandle
	exists bool
	params blehost.AdvParams

	payload      []byte
	scanResponse []byte

	active         bool
	periodicActive bool
	startedOnce    bool

	// payload exceeds the connectable safe maximum, tolerated while the
	// set is inactive but blocks connectable activation
	payloadExceedsConnectable bool

	rotatedAddr blehost.Addr
	hasRotated  bool
}

func (s *advSet) handle() blehost.AdvHandle { return s.h }

func (e *Engine) set(h blehost.AdvHandle) (*advSet, error) {
	if int(h) >= e.maxSets {
		return nil, errors.Wrapf(blehost.ErrInvalidParameter, "advertising set %d out of range", h)
	}
	s := &e.sets[h]
	if !s.exists {
		return nil, errors.Wrapf(blehost.ErrInvalidParameter, "advertising set %d does not exist", h)
	}
	return s, nil
}

// CreateAdvertisingSet allocates the next free extended set handle and
// applies default parameters. Fails with ErrNoMemory when the controller
// reported maximum is reached.
func (e *Engine) CreateAdvertisingSet(params *blehost.AdvParams) (blehost.AdvHandle, error) {
	if !e.ctrl.FeatureSupported(blehost.FeatureExtendedAdvertising) {
		return blehost.InvalidAdvHandle, errors.Wrap(blehost.ErrNotImplemented, "extended advertising")
	}

	p := blehost.DefaultAdvParams()
	if params != nil {
		p = *params
	}
	if err := validateAdvParams(p); err != nil {
		return blehost.InvalidAdvHandle, err
	}

	for i := 1; i < e.maxSets; i++ {
		s := &e.sets[i]
		if s.exists {
			continue
		}
		h := blehost.AdvHandle(i)
		if err := e.ctrl.SetAdvertisingParameters(h, p); err != nil {
			return blehost.InvalidAdvHandle, errors.Wrap(err, "set advertising parameters")
		}
		*s = advSet{h: h, exists: true, params: p}
		e.log.Debugf("advertising set %d created", h)
		return h, nil
	}

	return blehost.InvalidAdvHandle, errors.Wrap(blehost.ErrNoMemory, "no free advertising set")
}

// DestroyAdvertisingSet releases an extended set. A set that is active, or
// whose periodic advertising is active, cannot be destroyed.
func (e *Engine) DestroyAdvertisingSet(h blehost.AdvHandle) error {
	if h == blehost.LegacyAdvHandle {
		return errors.Wrap(blehost.ErrOperationNotPermitted, "legacy set cannot be destroyed")
	}
	s, err := e.set(h)
	if err != nil {
		return err
	}
	if s.active {
		return errors.Wrapf(blehost.ErrOperationNotPermitted, "set %d is advertising", h)
	}
	if s.periodicActive {
		return errors.Wrapf(blehost.ErrOperationNotPermitted, "set %d has periodic advertising active", h)
	}
	if err := e.ctrl.RemoveAdvertisingSet(h); err != nil {
		return errors.Wrap(err, "remove advertising set")
	}
	*s = advSet{}
	return nil
}

func validateAdvParams(p blehost.AdvParams) error {
	if p.MinInterval > p.MaxInterval {
		return errors.Wrap(blehost.ErrInvalidParameter, "advertising interval min > max")
	}
	if p.MinInterval < advIntervalMin || p.MaxInterval > advIntervalMax {
		return errors.Wrap(blehost.ErrInvalidParameter, "advertising interval out of range")
	}
	if p.ChannelMap&0x07 == 0 {
		return errors.Wrap(blehost.ErrInvalidParameter, "empty advertising channel map")
	}
	// high duty connectable event types only exist as legacy PDUs
	if !p.UseLegacyPDU &&
		(p.Type == blehost.AdvConnectableUndirected || p.Type == blehost.AdvConnectableDirected) {
		return errors.Wrapf(blehost.ErrInvalidParameter,
			"advertising type %d requires legacy PDUs", p.Type)
	}
	if p.Anonymous && p.Type.Connectable() {
		return errors.Wrap(blehost.ErrInvalidParameter, "anonymous advertising cannot be connectable")
	}
	return nil
}

// SetAdvertisingParameters reconfigures an existing set.
func (e *Engine) SetAdvertisingParameters(h blehost.AdvHandle, p blehost.AdvParams) error {
	s, err := e.set(h)
	if err != nil {
		return err
	}
	if err := validateAdvParams(p); err != nil {
		return err
	}
	if err := e.ctrl.SetAdvertisingParameters(h, p); err != nil {
		return errors.Wrap(err, "set advertising parameters")
	}
	s.params = p
	s.payloadExceedsConnectable = len(s.payload) > e.ctrl.MaxConnectableAdvertisingDataLength()
	return nil
}

// SetAdvertisingPayload replaces the advertising data of a set. Payloads
// exceeding the connectable safe maximum are accepted while the set is
// inactive, but a connectable set cannot carry one on air.
func (e *Engine) SetAdvertisingPayload(h blehost.AdvHandle, data []byte) error {
	return e.setAdvData(h, data, false)
}

// SetScanResponse replaces the scan response data of a set.
func (e *Engine) SetScanResponse(h blehost.AdvHandle, data []byte) error {
	return e.setAdvData(h, data, true)
}

func (e *Engine) setAdvData(h blehost.AdvHandle, data []byte, scanResponse bool) error {
	s, err := e.set(h)
	if err != nil {
		return err
	}
	if len(data) > e.ctrl.MaxAdvertisingDataLength() {
		return errors.Wrapf(blehost.ErrInvalidParameter,
			"payload of %d bytes exceeds controller maximum", len(data))
	}
	if s.params.UseLegacyPDU && len(data) > legacyAdvDataMax {
		return errors.Wrapf(blehost.ErrInvalidParameter,
			"payload of %d bytes exceeds legacy PDU maximum", len(data))
	}
	if s.active && len(data) > e.ctrl.MaxActiveSetAdvertisingDataLength() {
		return errors.Wrapf(blehost.ErrInvalidParameter,
			"payload of %d bytes exceeds active set maximum", len(data))
	}

	exceeds := len(data) > e.ctrl.MaxConnectableAdvertisingDataLength()
	if !scanResponse && exceeds && s.active && s.params.Type.Connectable() {
		return errors.Wrap(blehost.ErrInvalidParameter,
			"payload exceeds connectable maximum while set is active")
	}

	if err := e.fragmentAdvData(h, data, scanResponse); err != nil {
		return err
	}

	buf := append([]byte(nil), data...)
	if scanResponse {
		s.scanResponse = buf
	} else {
		s.payload = buf
		s.payloadExceedsConnectable = exceeds
	}
	return nil
}

// fragmentAdvData hands data to the controller in chunks. A payload that
// fits one transfer goes as a single Complete operation, otherwise the
// chunks are tagged First, Intermediate and Last.
func (e *Engine) fragmentAdvData(h blehost.AdvHandle, data []byte, scanResponse bool) error {
	chunk := e.ctrl.MaxAdvertisingChunkLength()
	if chunk <= 0 {
		return errors.Wrap(blehost.ErrInvalidState, "controller reports zero chunk length")
	}

	if len(data) <= chunk {
		return e.ctrl.SetAdvertisingData(h, blehost.FragmentComplete, scanResponse, data)
	}

	for off := 0; off < len(data); off += chunk {
		end := off + chunk
		if end > len(data) {
			end = len(data)
		}
		var op blehost.FragmentOp
		switch {
		case off == 0:
			op = blehost.FragmentFirst
		case end == len(data):
			op = blehost.FragmentLast
		default:
			op = blehost.FragmentIntermediate
		}
		if err := e.ctrl.SetAdvertisingData(h, op, scanResponse, data[off:end]); err != nil {
			return errors.Wrapf(err, "advertising data fragment at %d", off)
		}
	}
	return nil
}

// StartAdvertising puts a set on air. Duration is in 10 ms units, zero
// means unbounded. A connectable set whose payload exceeds the connectable
// maximum cannot start.
func (e *Engine) StartAdvertising(h blehost.AdvHandle, duration uint16, maxEvents uint8) error {
	s, err := e.set(h)
	if err != nil {
		return err
	}
	if s.active {
		return errors.Wrapf(blehost.ErrInvalidState, "set %d already advertising", h)
	}
	if s.params.Type.Connectable() && s.payloadExceedsConnectable {
		return errors.Wrapf(blehost.ErrInvalidParameter,
			"set %d payload exceeds connectable maximum", h)
	}

	if err := e.applyAdvertisingAddress(s); err != nil {
		return err
	}

	if err := e.ctrl.AdvertisingEnable(h, true, duration, maxEvents); err != nil {
		return errors.Wrap(err, "advertising enable")
	}
	s.active = true
	s.startedOnce = true
	e.handler.OnAdvertisingStart(h)
	return nil
}

// applyAdvertisingAddress installs the on-air address of a set before it
// starts: a fresh non-resolvable private address under that privacy policy,
// otherwise the configured random static address for random sets.
func (e *Engine) applyAdvertisingAddress(s *advSet) error {
	if e.privacy.enabled && e.privacy.peripheral.UseNonResolvableRandomAddress &&
		!s.params.Type.Connectable() {
		a, err := GenerateNonResolvableAddress()
		if err != nil {
			return err
		}
		if err := e.setSetAddress(s, a); err != nil {
			return err
		}
		s.rotatedAddr = a
		s.hasRotated = true
		e.enableRotation()
		return nil
	}
	if e.addrType == blehost.AddrTypeRandomStatic {
		return e.setSetAddress(s, e.randomStaticAddr)
	}
	return nil
}

func (e *Engine) setSetAddress(s *advSet, a blehost.Addr) error {
	if s.h == blehost.LegacyAdvHandle {
		return e.ctrl.SetRandomAddress(a)
	}
	return e.ctrl.SetAdvertisingSetRandomAddress(s.h, a)
}

// StopAdvertising takes a set off air. Stopping an inactive set is an
// error, the caller is expected to know the set state.
func (e *Engine) StopAdvertising(h blehost.AdvHandle) error {
	s, err := e.set(h)
	if err != nil {
		return err
	}
	if !s.active {
		return errors.Wrapf(blehost.ErrInvalidState, "set %d not advertising", h)
	}
	if err := e.ctrl.AdvertisingEnable(h, false, 0, 0); err != nil {
		return errors.Wrap(err, "advertising disable")
	}
	s.active = false
	e.maybeDisableRotation()
	return nil
}

// IsAdvertisingActive reports whether a set is on air.
func (e *Engine) IsAdvertisingActive(h blehost.AdvHandle) bool {
	s, err := e.set(h)
	return err == nil && s.active
}

// SetPeriodicAdvertisingParameters configures periodic advertising on an
// existing set. Intervals are in 1.25 ms units.
func (e *Engine) SetPeriodicAdvertisingParameters(h blehost.AdvHandle, minInterval, maxInterval uint16, includeTxPower bool) error {
	if !e.ctrl.FeatureSupported(blehost.FeaturePeriodicAdvertising) {
		return errors.Wrap(blehost.ErrNotImplemented, "periodic advertising")
	}
	s, err := e.set(h)
	if err != nil {
		return err
	}
	if minInterval > maxInterval {
		return errors.Wrap(blehost.ErrInvalidParameter, "periodic interval min > max")
	}
	if s.params.Type.Connectable() {
		return errors.Wrap(blehost.ErrInvalidParameter, "periodic advertising on connectable set")
	}
	return errors.Wrap(
		e.ctrl.SetPeriodicAdvertisingParameters(h, minInterval, maxInterval, includeTxPower),
		"set periodic parameters")
}

// SetPeriodicAdvertisingPayload replaces the periodic advertising data.
func (e *Engine) SetPeriodicAdvertisingPayload(h blehost.AdvHandle, data []byte) error {
	if !e.ctrl.FeatureSupported(blehost.FeaturePeriodicAdvertising) {
		return errors.Wrap(blehost.ErrNotImplemented, "periodic advertising")
	}
	if _, err := e.set(h); err != nil {
		return err
	}
	if len(data) > e.ctrl.MaxAdvertisingDataLength() {
		return errors.Wrapf(blehost.ErrInvalidParameter,
			"periodic payload of %d bytes exceeds controller maximum", len(data))
	}

	chunk := e.ctrl.MaxAdvertisingChunkLength()
	if len(data) <= chunk {
		return errors.Wrap(
			e.ctrl.SetPeriodicAdvertisingData(h, blehost.FragmentComplete, data),
			"set periodic data")
	}
	for off := 0; off < len(data); off += chunk {
		end := off + chunk
		if end > len(data) {
			end = len(data)
		}
		var op blehost.FragmentOp
		switch {
		case off == 0:
			op = blehost.FragmentFirst
		case end == len(data):
			op = blehost.FragmentLast
		default:
			op = blehost.FragmentIntermediate
		}
		if err := e.ctrl.SetPeriodicAdvertisingData(h, op, data[off:end]); err != nil {
			return errors.Wrapf(err, "periodic data fragment at %d", off)
		}
	}
	return nil
}

// StartPeriodicAdvertising enables the periodic train of a set. The basic
// set must have been started at least once. Periodic advertising keeps
// running if basic advertising later stops.
func (e *Engine) StartPeriodicAdvertising(h blehost.AdvHandle) error {
	if !e.ctrl.FeatureSupported(blehost.FeaturePeriodicAdvertising) {
		return errors.Wrap(blehost.ErrNotImplemented, "periodic advertising")
	}
	s, err := e.set(h)
	if err != nil {
		return err
	}
	if !s.startedOnce {
		return errors.Wrapf(blehost.ErrInvalidState, "set %d was never started", h)
	}
	if s.periodicActive {
		return errors.Wrapf(blehost.ErrInvalidState, "set %d periodic already active", h)
	}
	if err := e.ctrl.PeriodicAdvertisingEnable(h, true); err != nil {
		return errors.Wrap(err, "periodic advertising enable")
	}
	s.periodicActive = true
	return nil
}

// StopPeriodicAdvertising disables the periodic train of a set.
func (e *Engine) StopPeriodicAdvertising(h blehost.AdvHandle) error {
	s, err := e.set(h)
	if err != nil {
		return err
	}
	if !s.periodicActive {
		return errors.Wrapf(blehost.ErrInvalidState, "set %d periodic not active", h)
	}
	if err := e.ctrl.PeriodicAdvertisingEnable(h, false); err != nil {
		return errors.Wrap(err, "periodic advertising disable")
	}
	s.periodicActive = false
	return nil
}

// IsPeriodicAdvertisingActive reports whether the periodic train of a set
// is running.
func (e *Engine) IsPeriodicAdvertisingActive(h blehost.AdvHandle) bool {
	s, err := e.set(h)
	return err == nil && s.periodicActive
}
