package gap

import (
	"github.com/pkg/errors"

	"github.com/blelabs/blehost"
)

// statusError maps a controller event status to an error, nil on success.
func statusError(status uint8) error {
	if status == 0 {
		return nil
	}
	return errors.Wrapf(blehost.ErrCommunicationFailure, "controller status 0x%02x", status)
}

// HandleAdvertisingReport processes one report from the controller. Under
// the resolve-and-filter central policy, reports carrying a resolvable
// private address the controller failed to resolve are dropped.
func (e *Engine) HandleAdvertisingReport(r blehost.AdvReport) {
	if e.privacy.enabled &&
		e.privacy.central.ResolutionStrategy == CentralPrivacyResolveAndFilter &&
		isUnresolvedRPA(r.AddrType, r.Addr) {
		return
	}

	e.handler.OnAdvertisingReport(blehost.AdvertisingReport{
		EventType:        reportEventType(r.PDUType),
		AddrType:         r.AddrType,
		Addr:             r.Addr,
		DirectType:       r.DirectType,
		DirectAddr:       r.DirectAddr,
		Directed:         r.Directed,
		RSSI:             r.RSSI,
		TxPower:          r.TxPower,
		SID:              r.SID,
		PrimaryPHY:       r.PrimaryPHY,
		SecondaryPHY:     r.SecondaryPHY,
		PeriodicInterval: r.PeriodicInterval,
		Data:             r.Data,
	})
}

// isUnresolvedRPA reports whether an address reaching the host is a
// resolvable private address. The controller replaces resolved addresses
// with the peer identity, so an RPA seen here went unresolved.
func isUnresolvedRPA(t blehost.AddrType, a blehost.Addr) bool {
	if !t.IsRandom() {
		return false
	}
	return blehost.IsRandomPrivateResolvableAddr(a)
}

// reportEventType derives the legacy compatible event type code from the
// raw PDU type.
func reportEventType(t blehost.AdvPDUType) uint16 {
	switch t {
	case blehost.PDUAdvInd:
		return blehost.EventTypeConnectableUndirected
	case blehost.PDUAdvDirectInd:
		return blehost.EventTypeConnectableDirected
	case blehost.PDUAdvScanInd:
		return blehost.EventTypeScannableUndirected
	case blehost.PDUScanRsp:
		return blehost.EventTypeScanResponse
	default:
		return blehost.EventTypeNonConnectableUndirected
	}
}

// HandleConnectionComplete advances connection establishment. Failures are
// reported to the application as a single terminal event. On success the
// link record is created, the security engine is told about the new link,
// and peripheral privacy policy is applied before the application sees
// anything.
func (e *Engine) HandleConnectionComplete(ev blehost.ConnectionCompleteEvent) {
	if ev.Role == blehost.RoleCentral {
		e.connecting = false
	}

	if err := statusError(ev.Status); err != nil {
		e.handler.OnConnectionComplete(err, ev)
		return
	}

	c := &Connection{
		Handle:              ev.Handle,
		Role:                ev.Role,
		PeerAddrType:        ev.PeerAddrType,
		PeerAddr:            ev.PeerAddr,
		LocalResolvableAddr: ev.LocalResolvableAddr,
		PeerResolvableAddr:  ev.PeerResolvableAddr,
		Interval:            ev.Interval,
		Latency:             ev.Latency,
		SupervisionTimeout:  ev.SupervisionTimeout,
		TxPHY:               blehost.PHY1M,
		RxPHY:               blehost.PHY1M,
	}
	e.connections[ev.Handle] = c

	if ev.Role == blehost.RolePeripheral {
		// legacy advertising stops when a connection is created from it
		legacy := &e.sets[blehost.LegacyAdvHandle]
		if legacy.active {
			legacy.active = false
			e.maybeDisableRotation()
		}
	}

	requireAuth := false
	if ev.Role == blehost.RolePeripheral && e.privacy.enabled &&
		isUnresolvedRPA(ev.PeerAddrType, ev.PeerAddr) {
		switch e.privacy.peripheral.ResolutionStrategy {
		case PeripheralPrivacyReject:
			c.suppressed = true
			if err := e.ctrl.Disconnect(ev.Handle, blehost.DisconnectAuthenticationFailure); err != nil {
				e.log.Errorf("reject unresolved peer %s: %v", ev.PeerAddr, err)
			}
			return
		case PeripheralPrivacyPair:
			// pairing is requested after the security engine learns
			// about the link
		case PeripheralPrivacyAuthenticate:
			requireAuth = true
		}
	}

	if e.observer != nil {
		e.observer.ConnectionOpened(ev)
		if ev.Role == blehost.RolePeripheral && e.privacy.enabled &&
			isUnresolvedRPA(ev.PeerAddrType, ev.PeerAddr) &&
			e.privacy.peripheral.ResolutionStrategy != PeripheralPrivacyDoNotResolve {
			e.observer.UnresolvedPeerConnected(ev.Handle, requireAuth)
		}
	}

	e.handler.OnConnectionComplete(nil, ev)
}

// HandleDisconnectionComplete removes the link record and releases the
// security engine's per-connection state.
func (e *Engine) HandleDisconnectionComplete(ev blehost.DisconnectionCompleteEvent) {
	c, ok := e.connections[ev.Handle]
	if !ok {
		e.log.Warnf("disconnection for unknown connection %d", ev.Handle)
		return
	}
	delete(e.connections, ev.Handle)

	if e.observer != nil {
		e.observer.ConnectionClosed(ev.Handle)
	}
	if !c.suppressed {
		e.handler.OnDisconnectionComplete(ev)
	}
}

// HandleConnectionParamsRequest answers a peer parameter update proposal:
// forwarded to the application under managed handling, auto-accepted
// otherwise.
func (e *Engine) HandleConnectionParamsRequest(ev blehost.ConnParamsRequestEvent) {
	if e.manageConnParamsRequests {
		e.handler.OnUpdateConnectionParametersRequest(ev)
		return
	}
	err := e.ctrl.AcceptConnectionParameters(ev.Handle, blehost.ConnUpdateParams{
		MinInterval:        ev.MinInterval,
		MaxInterval:        ev.MaxInterval,
		Latency:            ev.Latency,
		SupervisionTimeout: ev.SupervisionTimeout,
		MinEventLength:     0,
		MaxEventLength:     0xFFFF,
	})
	if err != nil {
		e.log.Errorf("auto-accept connection parameters on %d: %v", ev.Handle, err)
	}
}

// HandleConnectionUpdateComplete records the negotiated parameters and
// notifies the application.
func (e *Engine) HandleConnectionUpdateComplete(ev blehost.ConnUpdateCompleteEvent) {
	if c, ok := e.connections[ev.Handle]; ok && ev.Status == 0 {
		c.Interval = ev.Interval
		c.Latency = ev.Latency
		c.SupervisionTimeout = ev.SupervisionTimeout
	}
	e.handler.OnConnectionParametersUpdateComplete(statusError(ev.Status), ev)
}

// HandleAdvSetTerminated clears the set active flag when a duration
// expires or a connection was created from the set.
func (e *Engine) HandleAdvSetTerminated(ev blehost.AdvSetTerminatedEvent) {
	if int(ev.Handle) < e.maxSets {
		s := &e.sets[ev.Handle]
		if s.exists {
			s.active = false
			e.maybeDisableRotation()
		}
	}
	e.handler.OnAdvertisingEnd(ev)
}

// HandleScanTimeout clears the scan state on a controller side duration
// expiry.
func (e *Engine) HandleScanTimeout() {
	e.scanTimedOut()
}

// HandleScanRequest forwards a scan request notification.
func (e *Engine) HandleScanRequest(ev blehost.ScanRequestEvent) {
	e.handler.OnScanRequest(ev)
}

// HandleReadPHY delivers a PHY read result.
func (e *Engine) HandleReadPHY(ev blehost.PHYUpdateEvent) {
	e.handler.OnReadPHY(statusError(ev.Status), ev)
}

// HandlePHYUpdateComplete records the new PHY and notifies.
func (e *Engine) HandlePHYUpdateComplete(ev blehost.PHYUpdateEvent) {
	if c, ok := e.connections[ev.Handle]; ok && ev.Status == 0 {
		c.TxPHY = ev.TxPHY
		c.RxPHY = ev.RxPHY
	}
	e.handler.OnPHYUpdateComplete(statusError(ev.Status), ev)
}

// HandlePeriodicSyncEstablished forwards a sync establishment result.
func (e *Engine) HandlePeriodicSyncEstablished(ev blehost.PeriodicSyncEstablishedEvent) {
	e.handler.OnPeriodicSyncEstablished(statusError(ev.Status), ev)
}

// HandlePeriodicReport forwards periodic advertising data.
func (e *Engine) HandlePeriodicReport(ev blehost.PeriodicReportEvent) {
	e.handler.OnPeriodicReport(ev)
}

// HandlePeriodicSyncLoss forwards a sync loss.
func (e *Engine) HandlePeriodicSyncLoss(h blehost.SyncHandle) {
	e.handler.OnPeriodicSyncLoss(h)
}
