package sm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blelabs/blehost"
	"github.com/blelabs/blehost/bond"
)

type pairingOffer struct {
	handle blehost.ConnHandle
	oob    bool
	auth   blehost.AuthMask
	init   blehost.KeyDistribution
	resp   blehost.KeyDistribution
}

type encryptRec struct {
	handle blehost.ConnHandle
	ltk    blehost.LTK
	legacy bool
	mitm   bool
}

type ltkReply struct {
	handle blehost.ConnHandle
	ltk    blehost.LTK
	mitm   bool
	sc     bool
}

// mockSecurityController records every primitive the engine drives.
type mockSecurityController struct {
	scSupported bool

	inits  int
	resets int

	ioCaps    []blehost.IOCapability
	keyBounds [][2]uint8

	pairingReqs  []pairingOffer
	pairingResps []pairingOffer
	cancels      []blehost.PairingFailure
	secRequests  []blehost.AuthMask

	encrypts   []encryptRec
	ltkReplies []ltkReply
	ltkMisses  int

	localCSRKs []blehost.CSRK
	peerCSRKs  []blehost.CSRK

	passkeys   []blehost.Passkey
	confirms   []bool
	keypresses []blehost.Keypress
	legacyTKs  [][16]byte
	scOOBs     int

	failPairingReq error
}

var _ blehost.SecurityController = (*mockSecurityController)(nil)

func newMockSecurityController() *mockSecurityController {
	return &mockSecurityController{scSupported: true}
}

func (m *mockSecurityController) InitializeSecurity() error {
	m.inits++
	return nil
}

func (m *mockSecurityController) ResetSecurity() error {
	m.resets++
	return nil
}

func (m *mockSecurityController) SecureConnectionsSupported() bool { return m.scSupported }

func (m *mockSecurityController) SetIOCapability(io blehost.IOCapability) error {
	m.ioCaps = append(m.ioCaps, io)
	return nil
}

func (m *mockSecurityController) SetDisplayPasskey(blehost.Passkey) error { return nil }

func (m *mockSecurityController) SetAuthenticationTimeout(blehost.ConnHandle, uint32) error {
	return nil
}

func (m *mockSecurityController) SetEncryptionKeyRequirements(min, max uint8) error {
	m.keyBounds = append(m.keyBounds, [2]uint8{min, max})
	return nil
}

func (m *mockSecurityController) SendPairingRequest(h blehost.ConnHandle, oob bool, auth blehost.AuthMask, initDist, respDist blehost.KeyDistribution) error {
	if m.failPairingReq != nil {
		return m.failPairingReq
	}
	m.pairingReqs = append(m.pairingReqs, pairingOffer{h, oob, auth, initDist, respDist})
	return nil
}

func (m *mockSecurityController) SendPairingResponse(h blehost.ConnHandle, oob bool, auth blehost.AuthMask, initDist, respDist blehost.KeyDistribution) error {
	m.pairingResps = append(m.pairingResps, pairingOffer{h, oob, auth, initDist, respDist})
	return nil
}

func (m *mockSecurityController) CancelPairing(_ blehost.ConnHandle, reason blehost.PairingFailure) error {
	m.cancels = append(m.cancels, reason)
	return nil
}

func (m *mockSecurityController) PeripheralSecurityRequest(_ blehost.ConnHandle, auth blehost.AuthMask) error {
	m.secRequests = append(m.secRequests, auth)
	return nil
}

func (m *mockSecurityController) EnableEncryption(h blehost.ConnHandle, ltk blehost.LTK, mitm bool) error {
	m.encrypts = append(m.encrypts, encryptRec{h, ltk, false, mitm})
	return nil
}

func (m *mockSecurityController) EnableLegacyEncryption(h blehost.ConnHandle, ltk blehost.LTK, _ blehost.EDIVRand, mitm bool) error {
	m.encrypts = append(m.encrypts, encryptRec{h, ltk, true, mitm})
	return nil
}

func (m *mockSecurityController) SetLTK(h blehost.ConnHandle, ltk blehost.LTK, mitm, sc bool) error {
	m.ltkReplies = append(m.ltkReplies, ltkReply{h, ltk, mitm, sc})
	return nil
}

func (m *mockSecurityController) SetLTKNotFound(blehost.ConnHandle) error {
	m.ltkMisses++
	return nil
}

func (m *mockSecurityController) SetCSRK(csrk blehost.CSRK, _ uint32) error {
	m.localCSRKs = append(m.localCSRKs, csrk)
	return nil
}

func (m *mockSecurityController) SetPeerCSRK(_ blehost.ConnHandle, csrk blehost.CSRK, _ bool, _ uint32) error {
	m.peerCSRKs = append(m.peerCSRKs, csrk)
	return nil
}

func (m *mockSecurityController) RemovePeerCSRK(blehost.ConnHandle) error { return nil }

func (m *mockSecurityController) PasskeyReply(_ blehost.ConnHandle, pk blehost.Passkey) error {
	m.passkeys = append(m.passkeys, pk)
	return nil
}

func (m *mockSecurityController) ConfirmationReply(_ blehost.ConnHandle, match bool) error {
	m.confirms = append(m.confirms, match)
	return nil
}

func (m *mockSecurityController) SendKeypressNotification(_ blehost.ConnHandle, k blehost.Keypress) error {
	m.keypresses = append(m.keypresses, k)
	return nil
}

func (m *mockSecurityController) LegacyPairingOOBReply(_ blehost.ConnHandle, tk [16]byte) error {
	m.legacyTKs = append(m.legacyTKs, tk)
	return nil
}

func (m *mockSecurityController) SecureConnectionsOOBReply(blehost.ConnHandle, [16]byte, [16]byte, [16]byte) error {
	m.scOOBs++
	return nil
}

type pairingResult struct {
	handle blehost.ConnHandle
	status blehost.PairingStatus
	reason blehost.PairingFailure
}

type encResult struct {
	handle blehost.ConnHandle
	state  blehost.LinkEncryption
}

// securityHandler records the security events the engine emits.
type securityHandler struct {
	blehost.NopHandler

	pairingReqs []blehost.ConnHandle
	results     []pairingResult
	encResults  []encResult
	signingKeys []blehost.CSRK
	passkeys    []blehost.Passkey
	whitelists  [][]blehost.WhitelistEntry

	legacyOOBReqs []blehost.ConnHandle
	legacyTKs     [][16]byte
	oobRandoms    [][16]byte
	oobConfirms   [][16]byte
}

func (h *securityHandler) OnPairingRequest(c blehost.ConnHandle) {
	h.pairingReqs = append(h.pairingReqs, c)
}

func (h *securityHandler) OnPairingResult(c blehost.ConnHandle, status blehost.PairingStatus, reason blehost.PairingFailure) {
	h.results = append(h.results, pairingResult{c, status, reason})
}

func (h *securityHandler) OnLinkEncryptionResult(c blehost.ConnHandle, state blehost.LinkEncryption) {
	h.encResults = append(h.encResults, encResult{c, state})
}

func (h *securityHandler) OnSigningKey(_ blehost.ConnHandle, csrk *blehost.CSRK, _ bool) {
	h.signingKeys = append(h.signingKeys, *csrk)
}

func (h *securityHandler) OnPasskeyDisplay(_ blehost.ConnHandle, pk blehost.Passkey) {
	h.passkeys = append(h.passkeys, pk)
}

func (h *securityHandler) OnWhitelistFromBondTable(entries []blehost.WhitelistEntry) {
	h.whitelists = append(h.whitelists, entries)
}

func (h *securityHandler) OnLegacyPairingOOBRequest(c blehost.ConnHandle) {
	h.legacyOOBReqs = append(h.legacyOOBReqs, c)
}

func (h *securityHandler) OnLegacyPairingOOBGenerated(_ blehost.Addr, tk [16]byte) {
	h.legacyTKs = append(h.legacyTKs, tk)
}

func (h *securityHandler) OnOOBGenerated(_ blehost.Addr, random, confirm [16]byte) {
	h.oobRandoms = append(h.oobRandoms, random)
	h.oobConfirms = append(h.oobConfirms, confirm)
}

func newSecurityTestEngine(t *testing.T, ctrl *mockSecurityController) (*Engine, *securityHandler, *blehost.Queue) {
	t.Helper()
	h := &securityHandler{}
	q := blehost.NewQueue()
	e, err := New(ctrl, bond.NewStore(8), q, WithHandler(h))
	require.NoError(t, err)
	require.NoError(t, e.Init())
	return e, h, q
}

// openLink registers a connection with the engine and returns its handle.
func openLink(t *testing.T, e *Engine, h blehost.ConnHandle, role blehost.Role) blehost.ConnHandle {
	t.Helper()
	a, err := blehost.ParseAddr("00:11:22:33:44:55")
	require.NoError(t, err)
	a[0] = byte(h)
	e.ConnectionOpened(blehost.ConnectionCompleteEvent{
		Handle:       h,
		Role:         role,
		PeerAddrType: blehost.AddrTypePublic,
		PeerAddr:     a,
	})
	_, err = e.cbByConn(h)
	require.NoError(t, err)
	return h
}
