package sm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blelabs/blehost"
)

// storeLTK plants a peer long term key against a link's bond entry.
func storeLTK(t *testing.T, e *Engine, conn blehost.ConnHandle, mitm, sc bool) blehost.LTK {
	t.Helper()
	cb, err := e.cbByConn(conn)
	require.NoError(t, err)

	var ltk blehost.LTK
	require.NoError(t, blehost.RandomBytes(ltk[:]))
	e.db.SetPeerLTK(cb.db, ltk)

	flags, _ := e.db.Flags(cb.db)
	flags.LTKStored = true
	flags.Authenticated = mitm
	flags.SecureConnections = sc
	e.db.SetFlags(cb.db, flags)
	cb.scPaired = sc
	return ltk
}

func TestSetLinkSecurity(t *testing.T) {
	ctrl := newMockSecurityController()
	e, h, _ := newSecurityTestEngine(t, ctrl)
	conn := openLink(t, e, 1, blehost.RoleCentral)
	ltk := storeLTK(t, e, conn, false, true)

	// open link on an unencrypted link is a no-op
	require.NoError(t, e.SetLinkSecurity(conn, blehost.SecurityModeEncryptionOpenLink))
	assert.Empty(t, ctrl.encrypts)

	require.NoError(t, e.SetLinkSecurity(conn, blehost.SecurityModeEncryptionNoMITM))
	require.Len(t, ctrl.encrypts, 1)
	assert.Equal(t, ltk, ctrl.encrypts[0].ltk)
	assert.False(t, ctrl.encrypts[0].legacy)

	state, err := e.LinkEncryptionState(conn)
	require.NoError(t, err)
	assert.Equal(t, blehost.EncryptionInProgress, state)

	// a second change while one runs
	err = e.SetLinkSecurity(conn, blehost.SecurityModeEncryptionNoMITM)
	assert.ErrorIs(t, err, blehost.ErrInvalidState)

	e.HandleEncryptionResult(conn, blehost.Encrypted)
	require.Len(t, h.encResults, 1)
	assert.Equal(t, blehost.Encrypted, h.encResults[0].state)

	// lowering security is forbidden
	err = e.SetLinkSecurity(conn, blehost.SecurityModeEncryptionOpenLink)
	assert.ErrorIs(t, err, blehost.ErrOperationNotPermitted)

	// asking for what the link already has reports the current state
	require.NoError(t, e.SetLinkSecurity(conn, blehost.SecurityModeEncryptionNoMITM))
	require.Len(t, h.encResults, 2)
	assert.Equal(t, blehost.Encrypted, h.encResults[1].state)
	assert.Len(t, ctrl.encrypts, 1)
}

func TestEncryptionMITMEscalation(t *testing.T) {
	ctrl := newMockSecurityController()
	e, _, _ := newSecurityTestEngine(t, ctrl)

	// a stored key without MITM protection cannot satisfy an
	// authenticated target, the engine pairs again
	conn := openLink(t, e, 1, blehost.RoleCentral)
	storeLTK(t, e, conn, false, true)
	require.NoError(t, e.SetLinkSecurity(conn, blehost.SecurityModeEncryptionWithMITM))
	assert.Empty(t, ctrl.encrypts)
	assert.Len(t, ctrl.pairingReqs, 1)
	assert.True(t, ctrl.pairingReqs[0].auth.MITM())

	// an authenticated stored key encrypts directly
	conn2 := openLink(t, e, 2, blehost.RoleCentral)
	storeLTK(t, e, conn2, true, true)
	require.NoError(t, e.SetLinkSecurity(conn2, blehost.SecurityModeEncryptionWithMITM))
	require.Len(t, ctrl.encrypts, 1)
	assert.True(t, ctrl.encrypts[0].mitm)
	assert.Len(t, ctrl.pairingReqs, 1)
}

func TestLegacyEncryptionPath(t *testing.T) {
	ctrl := newMockSecurityController()
	e, _, _ := newSecurityTestEngine(t, ctrl)
	conn := openLink(t, e, 1, blehost.RoleCentral)
	ltk := storeLTK(t, e, conn, false, false)

	require.NoError(t, e.SetLinkSecurity(conn, blehost.SecurityModeEncryptionNoMITM))
	require.Len(t, ctrl.encrypts, 1)
	assert.True(t, ctrl.encrypts[0].legacy)
	assert.Equal(t, ltk, ctrl.encrypts[0].ltk)
}

func TestPeripheralEncryptionUsesSecurityRequest(t *testing.T) {
	ctrl := newMockSecurityController()
	e, _, _ := newSecurityTestEngine(t, ctrl)
	conn := openLink(t, e, 1, blehost.RolePeripheral)

	require.NoError(t, e.SetLinkSecurity(conn, blehost.SecurityModeEncryptionNoMITM))
	assert.Empty(t, ctrl.encrypts)
	require.Len(t, ctrl.secRequests, 1)
	assert.False(t, ctrl.secRequests[0].MITM())
}

func TestEncryptionRetryAfterKeyLoss(t *testing.T) {
	ctrl := newMockSecurityController()
	e, h, _ := newSecurityTestEngine(t, ctrl)
	conn := openLink(t, e, 1, blehost.RoleCentral)
	storeLTK(t, e, conn, false, true)

	require.NoError(t, e.SetLinkSecurity(conn, blehost.SecurityModeEncryptionNoMITM))
	require.Len(t, ctrl.encrypts, 1)

	// the peer lost its key, the first failure re-pairs silently
	e.HandleEncryptionResult(conn, blehost.NotEncrypted)
	assert.Len(t, ctrl.pairingReqs, 1)
	assert.Empty(t, h.encResults)

	// the retry pairing fails too, now the application hears both
	e.HandlePairingFailed(conn, blehost.PairingFailureUnspecified)
	require.Len(t, h.encResults, 1)
	assert.Equal(t, blehost.NotEncrypted, h.encResults[0].state)
	require.Len(t, h.results, 1)
	assert.Equal(t, blehost.PairingFailed, h.results[0].status)

	// no endless loop, a later failure is reported directly
	cb, _ := e.cbByConn(conn)
	assert.False(t, cb.encryptionRequested)
}

func TestEncryptionRetrySettledByPairing(t *testing.T) {
	ctrl := newMockSecurityController()
	e, h, _ := newSecurityTestEngine(t, ctrl)
	conn := openLink(t, e, 1, blehost.RoleCentral)
	storeLTK(t, e, conn, false, true)

	require.NoError(t, e.SetLinkSecurity(conn, blehost.SecurityModeEncryptionNoMITM))
	e.HandleEncryptionResult(conn, blehost.NotEncrypted)
	require.Len(t, ctrl.pairingReqs, 1)

	// the retry pairing succeeds and settles the failure bookkeeping
	e.HandlePairingCompleted(conn)
	cb, _ := e.cbByConn(conn)
	assert.False(t, cb.encryptionFailed)
	assert.False(t, cb.encryptionRequested)
	require.Len(t, h.results, 1)
	assert.Equal(t, blehost.PairingSuccess, h.results[0].status)
}

func TestEncryptionSecondFailureReported(t *testing.T) {
	ctrl := newMockSecurityController()
	e, h, _ := newSecurityTestEngine(t, ctrl)
	conn := openLink(t, e, 1, blehost.RoleCentral)
	storeLTK(t, e, conn, false, true)

	require.NoError(t, e.SetLinkSecurity(conn, blehost.SecurityModeEncryptionNoMITM))
	e.HandleEncryptionResult(conn, blehost.NotEncrypted)
	require.Len(t, ctrl.pairingReqs, 1)

	// a second consecutive failure is terminal, no further retry
	e.HandleEncryptionResult(conn, blehost.NotEncrypted)
	require.Len(t, h.encResults, 1)
	assert.Equal(t, blehost.NotEncrypted, h.encResults[0].state)
	assert.Len(t, ctrl.pairingReqs, 1)
}

func TestEncryptionSuccessClearsRetryState(t *testing.T) {
	ctrl := newMockSecurityController()
	e, h, _ := newSecurityTestEngine(t, ctrl)
	conn := openLink(t, e, 1, blehost.RoleCentral)
	storeLTK(t, e, conn, true, true)

	require.NoError(t, e.SetLinkSecurity(conn, blehost.SecurityModeEncryptionWithMITM))
	e.HandleEncryptionResult(conn, blehost.NotEncrypted)
	require.Len(t, ctrl.pairingReqs, 1)

	e.HandleEncryptionResult(conn, blehost.EncryptedWithSCAndMITM)
	require.Len(t, h.encResults, 1)
	assert.Equal(t, blehost.EncryptedWithSCAndMITM, h.encResults[0].state)

	cb, _ := e.cbByConn(conn)
	assert.True(t, cb.encrypted)
	assert.True(t, cb.authenticated)
	assert.False(t, cb.encryptionFailed)
	assert.False(t, cb.encryptionRequested)
}

func TestServeLTK(t *testing.T) {
	ctrl := newMockSecurityController()
	e, _, _ := newSecurityTestEngine(t, ctrl)
	conn := openLink(t, e, 1, blehost.RolePeripheral)
	cb, err := e.cbByConn(conn)
	require.NoError(t, err)

	// no local key material, the miss is answered
	e.HandleLTKRequest(conn)
	assert.Equal(t, 1, ctrl.ltkMisses)
	assert.Empty(t, ctrl.ltkReplies)

	var ltk blehost.LTK
	require.NoError(t, blehost.RandomBytes(ltk[:]))
	e.db.SetLocalLTK(cb.db, ltk)
	flags, _ := e.db.Flags(cb.db)
	flags.LTKStored = true
	flags.Authenticated = true
	flags.SecureConnections = true
	e.db.SetFlags(cb.db, flags)

	e.HandleLTKRequest(conn)
	require.Len(t, ctrl.ltkReplies, 1)
	assert.Equal(t, ltk, ctrl.ltkReplies[0].ltk)
	assert.True(t, ctrl.ltkReplies[0].mitm)
	assert.True(t, ctrl.ltkReplies[0].sc)

	// a legacy request with the wrong EDIV misses
	e.HandleLegacyLTKRequest(conn, blehost.EDIVRand{EDIV: 0xBEEF, Rand: 1})
	assert.Equal(t, 2, ctrl.ltkMisses)
	assert.Len(t, ctrl.ltkReplies, 1)
}
