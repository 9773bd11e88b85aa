package gap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blelabs/blehost"
)

type recordingObserver struct {
	opened     []blehost.ConnectionCompleteEvent
	closed     []blehost.ConnHandle
	unresolved []blehost.ConnHandle
	authFlags  []bool
}

func (o *recordingObserver) ConnectionOpened(ev blehost.ConnectionCompleteEvent) {
	o.opened = append(o.opened, ev)
}

func (o *recordingObserver) ConnectionClosed(h blehost.ConnHandle) {
	o.closed = append(o.closed, h)
}

func (o *recordingObserver) UnresolvedPeerConnected(h blehost.ConnHandle, authenticate bool) {
	o.unresolved = append(o.unresolved, h)
	o.authFlags = append(o.authFlags, authenticate)
}

func rpaAddr(t *testing.T) blehost.Addr {
	t.Helper()
	a, err := blehost.ParseAddr("40:12:34:aa:bb:cc")
	require.NoError(t, err)
	return a
}

func TestConnectionCompleteFailure(t *testing.T) {
	ctrl := newMockController()
	e, h := newTestEngine(ctrl)

	e.HandleConnectionComplete(blehost.ConnectionCompleteEvent{
		Status: 0x3E,
		Role:   blehost.RoleCentral,
	})
	require.Len(t, h.connErr, 1)
	assert.ErrorIs(t, h.connErr[0], blehost.ErrCommunicationFailure)
	assert.Zero(t, e.ConnectionCount())

	// a failed attempt releases the initiation slot
	peer, _ := blehost.ParseAddr("00:11:22:33:44:55")
	good := &blehost.ConnPHYParams{
		ScanInterval:       0x40,
		ScanWindow:         0x20,
		MinInterval:        0x18,
		MaxInterval:        0x28,
		SupervisionTimeout: 0x48,
		MaxEventLength:     0xFFFF,
	}
	require.NoError(t, e.Connect(blehost.AddrTypePublic, peer, blehost.ConnectionParams{PHY1M: good}))
	e.HandleConnectionComplete(blehost.ConnectionCompleteEvent{Status: 0x3E, Role: blehost.RoleCentral})
	require.NoError(t, e.Connect(blehost.AddrTypePublic, peer, blehost.ConnectionParams{PHY1M: good}))
}

func TestConnectionLifecycle(t *testing.T) {
	ctrl := newMockController()
	obs := &recordingObserver{}
	e, h := newTestEngine(ctrl, WithConnectionObserver(obs))

	ev := blehost.ConnectionCompleteEvent{
		Handle:       7,
		Role:         blehost.RolePeripheral,
		PeerAddrType: blehost.AddrTypePublic,
		Interval:     40,
	}
	e.HandleConnectionComplete(ev)

	require.Len(t, h.connOK, 1)
	require.Len(t, obs.opened, 1)
	assert.Equal(t, 1, e.ConnectionCount())
	c, ok := e.Connection(7)
	require.True(t, ok)
	assert.Equal(t, uint16(40), c.Interval)

	e.HandleDisconnectionComplete(blehost.DisconnectionCompleteEvent{Handle: 7, Reason: 0x13})
	assert.Len(t, h.disconnects, 1)
	assert.Equal(t, []blehost.ConnHandle{7}, obs.closed)
	assert.Zero(t, e.ConnectionCount())
}

func TestPeripheralPrivacyReject(t *testing.T) {
	ctrl := newMockController()
	obs := &recordingObserver{}
	e, h := newTestEngine(ctrl, WithConnectionObserver(obs))

	require.NoError(t, e.EnablePrivacy(true))
	require.NoError(t, e.SetPeripheralPrivacyConfiguration(PeripheralPrivacyConfiguration{
		ResolutionStrategy: PeripheralPrivacyReject,
	}))

	e.HandleConnectionComplete(blehost.ConnectionCompleteEvent{
		Handle:       3,
		Role:         blehost.RolePeripheral,
		PeerAddrType: blehost.AddrTypeRandomPrivateResolvable,
		PeerAddr:     rpaAddr(t),
	})

	// the link is torn down before the application hears about it
	require.Len(t, ctrl.disconnects, 1)
	assert.Equal(t, blehost.ConnHandle(3), ctrl.disconnects[0].handle)
	assert.Equal(t, blehost.DisconnectAuthenticationFailure, ctrl.disconnects[0].reason)
	assert.Empty(t, h.connOK)
	assert.Empty(t, obs.opened)

	// and the matching disconnection stays invisible too
	e.HandleDisconnectionComplete(blehost.DisconnectionCompleteEvent{Handle: 3, Reason: 0x16})
	assert.Empty(t, h.disconnects)
	assert.Equal(t, []blehost.ConnHandle{3}, obs.closed)
}

func TestPeripheralPrivacyPairAndAuthenticate(t *testing.T) {
	cases := []struct {
		name     string
		strategy PeripheralPrivacyStrategy
		notified bool
		auth     bool
	}{
		{"do not resolve", PeripheralPrivacyDoNotResolve, false, false},
		{"pair", PeripheralPrivacyPair, true, false},
		{"authenticate", PeripheralPrivacyAuthenticate, true, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := newMockController()
			obs := &recordingObserver{}
			e, h := newTestEngine(ctrl, WithConnectionObserver(obs))

			require.NoError(t, e.EnablePrivacy(true))
			require.NoError(t, e.SetPeripheralPrivacyConfiguration(PeripheralPrivacyConfiguration{
				ResolutionStrategy: tc.strategy,
			}))

			e.HandleConnectionComplete(blehost.ConnectionCompleteEvent{
				Handle:       5,
				Role:         blehost.RolePeripheral,
				PeerAddrType: blehost.AddrTypeRandomPrivateResolvable,
				PeerAddr:     rpaAddr(t),
			})

			require.Len(t, h.connOK, 1)
			require.Len(t, obs.opened, 1)
			if !tc.notified {
				assert.Empty(t, obs.unresolved)
				return
			}
			require.Equal(t, []blehost.ConnHandle{5}, obs.unresolved)
			assert.Equal(t, tc.auth, obs.authFlags[0])
		})
	}
}

func TestCentralResolveAndFilter(t *testing.T) {
	ctrl := newMockController()
	e, h := newTestEngine(ctrl)

	require.NoError(t, e.EnablePrivacy(true))
	require.NoError(t, e.SetCentralPrivacyConfiguration(CentralPrivacyConfiguration{
		ResolutionStrategy: CentralPrivacyResolveAndFilter,
	}))

	// an RPA that reached the host went unresolved, drop it
	e.HandleAdvertisingReport(blehost.AdvReport{
		PDUType:  blehost.PDUAdvInd,
		AddrType: blehost.AddrTypeRandomPrivateResolvable,
		Addr:     rpaAddr(t),
	})
	assert.Empty(t, h.reports)

	// identity addresses pass through
	ident, _ := blehost.ParseAddr("00:11:22:33:44:55")
	e.HandleAdvertisingReport(blehost.AdvReport{
		PDUType:  blehost.PDUAdvInd,
		AddrType: blehost.AddrTypePublic,
		Addr:     ident,
	})
	require.Len(t, h.reports, 1)
	assert.Equal(t, blehost.EventTypeConnectableUndirected, h.reports[0].EventType)

	// forwarding policy keeps unresolved RPAs
	require.NoError(t, e.SetCentralPrivacyConfiguration(CentralPrivacyConfiguration{
		ResolutionStrategy: CentralPrivacyResolveAndForward,
	}))
	e.HandleAdvertisingReport(blehost.AdvReport{
		PDUType:  blehost.PDUAdvInd,
		AddrType: blehost.AddrTypeRandomPrivateResolvable,
		Addr:     rpaAddr(t),
	})
	assert.Len(t, h.reports, 2)
}

func TestConnectionParamsRequestHandling(t *testing.T) {
	ctrl := newMockController()
	e, h := newTestEngine(ctrl)

	e.HandleConnectionComplete(blehost.ConnectionCompleteEvent{
		Handle: 2,
		Role:   blehost.RoleCentral,
	})

	ev := blehost.ConnParamsRequestEvent{
		Handle:             2,
		MinInterval:        0x18,
		MaxInterval:        0x28,
		Latency:            0,
		SupervisionTimeout: 0x48,
	}

	// default policy auto-accepts with wide open event length
	e.HandleConnectionParamsRequest(ev)
	require.Len(t, ctrl.accepts, 1)
	assert.Equal(t, ev.MaxInterval, ctrl.accepts[0].MaxInterval)
	assert.Equal(t, uint16(0xFFFF), ctrl.accepts[0].MaxEventLength)
	assert.Empty(t, h.updateReqs)

	// managed requests go to the application instead
	e.ManageConnectionParametersUpdateRequest(true)
	e.HandleConnectionParamsRequest(ev)
	assert.Len(t, ctrl.accepts, 1)
	require.Len(t, h.updateReqs, 1)
	assert.Equal(t, blehost.ConnHandle(2), h.updateReqs[0].Handle)

	require.NoError(t, e.RejectConnectionParametersUpdate(2))
	assert.Equal(t, []blehost.ConnHandle{2}, ctrl.rejects)
}

func TestConnectionUpdateComplete(t *testing.T) {
	ctrl := newMockController()
	e, _ := newTestEngine(ctrl)

	e.HandleConnectionComplete(blehost.ConnectionCompleteEvent{
		Handle:   9,
		Role:     blehost.RoleCentral,
		Interval: 40,
	})

	e.HandleConnectionUpdateComplete(blehost.ConnUpdateCompleteEvent{
		Handle:             9,
		Interval:           24,
		Latency:            2,
		SupervisionTimeout: 100,
	})
	c, ok := e.Connection(9)
	require.True(t, ok)
	assert.Equal(t, uint16(24), c.Interval)
	assert.Equal(t, uint16(2), c.Latency)

	// a failed update leaves the record alone
	e.HandleConnectionUpdateComplete(blehost.ConnUpdateCompleteEvent{
		Handle:   9,
		Status:   0x3B,
		Interval: 6,
	})
	c, ok = e.Connection(9)
	require.True(t, ok)
	assert.Equal(t, uint16(24), c.Interval)
}
