package sm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blelabs/blehost"
)

func TestGenerateOOB(t *testing.T) {
	ctrl := newMockSecurityController()
	e, h, _ := newSecurityTestEngine(t, ctrl)

	addr, err := blehost.ParseAddr("c0:11:22:33:44:55")
	require.NoError(t, err)

	require.NoError(t, e.GenerateOOB(addr))

	// legacy TK and secure connections material both came out
	require.Len(t, h.legacyTKs, 1)
	require.Len(t, h.oobRandoms, 1)
	require.Len(t, h.oobConfirms, 1)
	assert.NotEqual(t, [16]byte{}, h.legacyTKs[0])
	assert.NotEqual(t, [16]byte{}, h.oobConfirms[0])

	// fresh material every time
	require.NoError(t, e.GenerateOOB(addr))
	assert.NotEqual(t, h.oobRandoms[0], h.oobRandoms[1])
}

func TestGenerateOOBLegacyOnly(t *testing.T) {
	ctrl := newMockSecurityController()
	ctrl.scSupported = false
	e, h, _ := newSecurityTestEngine(t, ctrl)

	addr, err := blehost.ParseAddr("c0:11:22:33:44:55")
	require.NoError(t, err)

	require.NoError(t, e.GenerateOOB(addr))
	assert.Len(t, h.legacyTKs, 1)
	assert.Empty(t, h.oobRandoms)
}

func TestLegacyOOBLatching(t *testing.T) {
	ctrl := newMockSecurityController()
	e, h, _ := newSecurityTestEngine(t, ctrl)
	conn := openLink(t, e, 1, blehost.RolePeripheral)
	cb, err := e.cbByConn(conn)
	require.NoError(t, err)

	// the controller asks before the key arrived, the request is latched
	e.HandleLegacyOOBRequest(conn)
	assert.Equal(t, []blehost.ConnHandle{conn}, h.legacyOOBReqs)
	assert.Empty(t, ctrl.legacyTKs)

	var tk [16]byte
	tk[0] = 0x7E
	require.NoError(t, e.LegacyPairingOOBReceived(cb.addrType, cb.addr, tk))
	require.Len(t, ctrl.legacyTKs, 1)
	assert.Equal(t, tk, ctrl.legacyTKs[0])

	// with the key already present a later request is answered directly
	e.HandleLegacyOOBRequest(conn)
	require.Len(t, ctrl.legacyTKs, 2)
	assert.Len(t, h.legacyOOBReqs, 1)
}

func TestLegacyOOBMarksMITM(t *testing.T) {
	ctrl := newMockSecurityController()
	e, _, _ := newSecurityTestEngine(t, ctrl)
	conn := openLink(t, e, 1, blehost.RolePeripheral)

	require.NoError(t, e.SetOOBDataUsage(conn, true, true))
	e.HandleLegacyOOBRequest(conn)

	cb, _ := e.cbByConn(conn)
	assert.True(t, cb.mitmPerformed)
}

func TestSecureConnectionsOOBReply(t *testing.T) {
	ctrl := newMockSecurityController()
	e, _, _ := newSecurityTestEngine(t, ctrl)
	conn := openLink(t, e, 1, blehost.RolePeripheral)
	cb, err := e.cbByConn(conn)
	require.NoError(t, err)

	// no peer material, pairing is cancelled
	e.HandleOOBRequest(conn)
	require.Len(t, ctrl.cancels, 1)
	assert.Equal(t, blehost.PairingFailureOOBNotAvailable, ctrl.cancels[0])

	// material for a different peer does not count
	other, _ := blehost.ParseAddr("c0:99:88:77:66:55")
	require.NoError(t, e.OOBReceived(other, [16]byte{1}, [16]byte{2}))
	e.HandleOOBRequest(conn)
	assert.Len(t, ctrl.cancels, 2)

	require.NoError(t, e.OOBReceived(cb.addr, [16]byte{1}, [16]byte{2}))
	e.HandleOOBRequest(conn)
	assert.Equal(t, 1, ctrl.scOOBs)
	assert.Len(t, ctrl.cancels, 2)
}
