package gap

import (
	"github.com/pkg/errors"

	"github.com/blelabs/blehost"
)

// Connect starts connection establishment towards a peer. One initiation
// may be in flight at a time. Each enabled PHY slot is validated, the
// supervision timeout of every slot must strictly exceed the mandated
// interval bound.
func (e *Engine) Connect(peerType blehost.AddrType, peer blehost.Addr, params blehost.ConnectionParams) error {
	if e.connecting {
		return errors.Wrap(blehost.ErrInvalidState, "connection attempt in flight")
	}
	phys := params.EnabledPHYs()
	if len(phys) == 0 {
		return errors.Wrap(blehost.ErrInvalidParameter, "no initiation PHY enabled")
	}
	for _, phy := range phys {
		if err := validateConnPHYParams(*params.Slot(phy)); err != nil {
			return errors.Wrapf(err, "PHY %d", phy)
		}
	}
	if peerType.IsRandom() {
		if _, err := blehost.ClassifyRandomAddr(peer); err != nil {
			return err
		}
	}
	if err := e.ctrl.CreateConnection(peerType, peer, params); err != nil {
		return errors.Wrap(err, "create connection")
	}
	e.connecting = true
	return nil
}

// CancelConnect aborts a pending connection attempt. Best effort: the
// outcome arrives as a connection complete event. Calling it with no
// attempt in flight is a no-op.
func (e *Engine) CancelConnect() error {
	if !e.connecting {
		return nil
	}
	return errors.Wrap(e.ctrl.CancelConnection(), "cancel connection")
}

// Disconnect tears down a link with the given reason.
func (e *Engine) Disconnect(h blehost.ConnHandle, reason blehost.DisconnectReason) error {
	if _, ok := e.connections[h]; !ok {
		return errors.Wrapf(blehost.ErrInvalidParameter, "unknown connection %d", h)
	}
	return errors.Wrap(e.ctrl.Disconnect(h, reason), "disconnect")
}

// UpdateConnectionParameters proposes new parameters for a live link.
func (e *Engine) UpdateConnectionParameters(h blehost.ConnHandle, p blehost.ConnUpdateParams) error {
	if _, ok := e.connections[h]; !ok {
		return errors.Wrapf(blehost.ErrInvalidParameter, "unknown connection %d", h)
	}
	if err := validateConnUpdateParams(p); err != nil {
		return err
	}
	return errors.Wrap(e.ctrl.UpdateConnectionParameters(h, p), "update connection parameters")
}

// AcceptConnectionParametersUpdate answers a peer update request
// affirmatively. Only meaningful under managed update handling.
func (e *Engine) AcceptConnectionParametersUpdate(h blehost.ConnHandle, p blehost.ConnUpdateParams) error {
	if _, ok := e.connections[h]; !ok {
		return errors.Wrapf(blehost.ErrInvalidParameter, "unknown connection %d", h)
	}
	if err := validateConnUpdateParams(p); err != nil {
		return err
	}
	return errors.Wrap(e.ctrl.AcceptConnectionParameters(h, p), "accept connection parameters")
}

// RejectConnectionParametersUpdate declines a peer update request.
func (e *Engine) RejectConnectionParametersUpdate(h blehost.ConnHandle) error {
	if _, ok := e.connections[h]; !ok {
		return errors.Wrapf(blehost.ErrInvalidParameter, "unknown connection %d", h)
	}
	return errors.Wrap(
		e.ctrl.RejectConnectionParameters(h, blehost.DisconnectUnacceptableConnInterval),
		"reject connection parameters")
}

// ManageConnectionParametersUpdateRequest switches peer parameter update
// requests between auto-accept and application managed handling.
func (e *Engine) ManageConnectionParametersUpdateRequest(manage bool) {
	e.manageConnParamsRequests = manage
}

// ReadPHY queries the PHY in use on a link. The result arrives as an
// event.
func (e *Engine) ReadPHY(h blehost.ConnHandle) error {
	if _, ok := e.connections[h]; !ok {
		return errors.Wrapf(blehost.ErrInvalidParameter, "unknown connection %d", h)
	}
	return errors.Wrap(e.ctrl.ReadPHY(h), "read phy")
}

// SetPHY requests a PHY change on a link.
func (e *Engine) SetPHY(h blehost.ConnHandle, tx, rx blehost.PHYSet) error {
	if _, ok := e.connections[h]; !ok {
		return errors.Wrapf(blehost.ErrInvalidParameter, "unknown connection %d", h)
	}
	if err := e.validatePHYSets(tx, rx); err != nil {
		return err
	}
	return errors.Wrap(e.ctrl.SetPHY(h, tx, rx), "set phy")
}

// SetPreferredPHYs sets the default PHY preference for new links.
func (e *Engine) SetPreferredPHYs(tx, rx blehost.PHYSet) error {
	if err := e.validatePHYSets(tx, rx); err != nil {
		return err
	}
	return errors.Wrap(e.ctrl.SetDefaultPHY(tx, rx), "set default phy")
}

func (e *Engine) validatePHYSets(tx, rx blehost.PHYSet) error {
	if tx.Count() == 0 && rx.Count() == 0 {
		return errors.Wrap(blehost.ErrInvalidParameter, "empty phy preference")
	}
	if (tx.Has2M() || rx.Has2M()) && !e.ctrl.FeatureSupported(blehost.Feature2MPHY) {
		return errors.Wrap(blehost.ErrNotImplemented, "2M PHY")
	}
	if (tx.HasCoded() || rx.HasCoded()) && !e.ctrl.FeatureSupported(blehost.FeatureCodedPHY) {
		return errors.Wrap(blehost.ErrNotImplemented, "coded PHY")
	}
	return nil
}

// CreatePeriodicSync starts synchronization to a periodic advertising
// train, either to a specific advertiser or using the periodic advertiser
// list.
func (e *Engine) CreatePeriodicSync(useList bool, sid uint8, peerType blehost.AddrType, peer blehost.Addr, maxSkip, timeout uint16) error {
	if !e.ctrl.FeatureSupported(blehost.FeaturePeriodicAdvertising) {
		return errors.Wrap(blehost.ErrNotImplemented, "periodic advertising")
	}
	if sid > 0x0F {
		return errors.Wrap(blehost.ErrInvalidParameter, "advertising SID out of range")
	}
	return errors.Wrap(
		e.ctrl.CreatePeriodicSync(useList, sid, peerType, peer, maxSkip, timeout),
		"create periodic sync")
}

// CancelPeriodicSyncCreate aborts a pending sync attempt.
func (e *Engine) CancelPeriodicSyncCreate() error {
	return errors.Wrap(e.ctrl.CancelPeriodicSyncCreate(), "cancel periodic sync")
}

// TerminatePeriodicSync drops an established sync.
func (e *Engine) TerminatePeriodicSync(h blehost.SyncHandle) error {
	return errors.Wrap(e.ctrl.TerminatePeriodicSync(h), "terminate periodic sync")
}

// AddPeriodicAdvertiserListEntry adds an advertiser to the controller
// periodic advertiser list.
func (e *Engine) AddPeriodicAdvertiserListEntry(peerType blehost.AddrType, peer blehost.Addr, sid uint8) error {
	if sid > 0x0F {
		return errors.Wrap(blehost.ErrInvalidParameter, "advertising SID out of range")
	}
	return errors.Wrap(
		e.ctrl.AddPeriodicAdvertiserListEntry(peerType, peer, sid),
		"add periodic advertiser")
}

// RemovePeriodicAdvertiserListEntry removes an advertiser from the list.
func (e *Engine) RemovePeriodicAdvertiserListEntry(peerType blehost.AddrType, peer blehost.Addr, sid uint8) error {
	return errors.Wrap(
		e.ctrl.RemovePeriodicAdvertiserListEntry(peerType, peer, sid),
		"remove periodic advertiser")
}

// ClearPeriodicAdvertiserList empties the list.
func (e *Engine) ClearPeriodicAdvertiserList() error {
	return errors.Wrap(e.ctrl.ClearPeriodicAdvertiserList(), "clear periodic advertiser list")
}

// PeriodicAdvertiserListCapacity returns the controller list size.
func (e *Engine) PeriodicAdvertiserListCapacity() int {
	return e.ctrl.PeriodicAdvertiserListCapacity()
}
