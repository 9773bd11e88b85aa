package sm

import (
	"github.com/pkg/errors"

	"github.com/blelabs/blehost"
)

// localAuthMask derives the authentication mask offered on a link.
func (e *Engine) localAuthMask(cb *controlBlock) blehost.AuthMask {
	return e.defaultAuth.
		WithMITM(e.defaultAuth.MITM() || cb.mitmRequested).
		WithKeypress(e.keypressEnabled)
}

// localKeyDist derives the key distribution offered on a link. Under the
// role reversal hint a central offers its full set so the peer can act as
// central later.
func (e *Engine) localKeyDist(cb *controlBlock) blehost.KeyDistribution {
	dist := e.defaultDist.WithSigning(e.defaultDist.Signing() || cb.signingRequested)
	if e.hintRoleReversal && cb.role == blehost.RoleCentral {
		dist = dist.Union(blehost.KeyDistAll.WithLink(false))
	}
	return dist
}

// RequestPairing starts pairing as initiator on a live link.
func (e *Engine) RequestPairing(h blehost.ConnHandle) error {
	cb, err := e.cbByConn(h)
	if err != nil {
		return err
	}
	if cb.pairingInProgress {
		return errors.Wrapf(blehost.ErrInvalidState, "pairing already running on %d", h)
	}

	auth := e.localAuthMask(cb)
	dist := e.localKeyDist(cb)
	if err := e.ctrl.SendPairingRequest(h, cb.attemptOOB, auth, dist, dist); err != nil {
		return errors.Wrap(err, "send pairing request")
	}
	cb.pairingInProgress = true
	cb.initiator = true
	cb.mitmRequested = auth.MITM()
	return nil
}

// CancelPairingRequest aborts a running pairing. Idempotent, cancelling
// with nothing running is a no-op.
func (e *Engine) CancelPairingRequest(h blehost.ConnHandle) error {
	cb, err := e.cbByConn(h)
	if err != nil {
		return err
	}
	if !cb.pairingInProgress {
		return nil
	}
	return errors.Wrap(
		e.ctrl.CancelPairing(h, blehost.PairingFailureUnspecified),
		"cancel pairing")
}

// HandlePairingRequest processes a peer initiated pairing request: the
// offered key distribution masks are recorded, peers that cannot do secure
// connections are cancelled when legacy pairing is disallowed, and the
// request is either auto-accepted or handed to the application for
// authorization.
func (e *Engine) HandlePairingRequest(h blehost.ConnHandle, oob bool, auth blehost.AuthMask, initDist, respDist blehost.KeyDistribution) {
	cb, err := e.cbByConn(h)
	if err != nil {
		e.log.Errorf("pairing request on unknown connection %d", h)
		return
	}

	cb.peerOOB = oob
	cb.peerAuth = auth
	cb.peerInitDist = initDist
	cb.peerRespDist = respDist
	cb.legacyPairing = !(auth.SecureConnections() && e.scSupported)

	if cb.legacyPairing && !e.legacyAllowed {
		if err := e.ctrl.CancelPairing(h, blehost.PairingFailureAuthenticationReqs); err != nil {
			e.log.Errorf("cancel legacy pairing on %d: %v", h, err)
		}
		return
	}

	if e.authorisationRequired {
		cb.authorisationPending = true
		e.handler.OnPairingRequest(h)
		return
	}
	e.acceptPairing(cb)
}

// AcceptPairingRequest answers a pairing request previously forwarded for
// authorization.
func (e *Engine) AcceptPairingRequest(h blehost.ConnHandle, accept bool) error {
	cb, err := e.cbByConn(h)
	if err != nil {
		return err
	}
	if !cb.authorisationPending {
		return errors.Wrapf(blehost.ErrInvalidState, "no pairing awaiting authorization on %d", h)
	}
	cb.authorisationPending = false
	if !accept {
		return errors.Wrap(
			e.ctrl.CancelPairing(h, blehost.PairingFailureAuthenticationReqs),
			"cancel pairing")
	}
	e.acceptPairing(cb)
	return nil
}

// acceptPairing sends the pairing response with the peer's offer
// intersected against local policy. Signing keys are only exchanged when
// both sides offer them and local policy allows.
func (e *Engine) acceptPairing(cb *controlBlock) {
	local := e.localKeyDist(cb)
	initDist := cb.peerInitDist.Intersect(local)
	respDist := cb.peerRespDist.Intersect(local)

	auth := e.localAuthMask(cb)
	cb.mitmRequested = auth.MITM() || cb.peerAuth.MITM()
	cb.pairingInProgress = true

	if err := e.ctrl.SendPairingResponse(cb.conn, cb.attemptOOB, auth, initDist, respDist); err != nil {
		e.log.Errorf("pairing response on %d: %v", cb.conn, err)
		cb.pairingInProgress = false
	}
}

// HandleSecurityRequest processes a peripheral's security request on a
// central link: escalate to pairing when the peer demands more than the
// stored keys deliver, otherwise refresh encryption from the bond.
func (e *Engine) HandleSecurityRequest(h blehost.ConnHandle, auth blehost.AuthMask) {
	cb, err := e.cbByConn(h)
	if err != nil {
		e.log.Errorf("security request on unknown connection %d", h)
		return
	}
	if cb.pairingInProgress {
		return
	}

	flags, haveBond := e.db.Flags(cb.db)
	needPairing := !haveBond || !flags.LTKStored ||
		(auth.MITM() && !flags.Authenticated) ||
		(auth.SecureConnections() && e.scSupported && !flags.SecureConnections)

	if needPairing {
		cb.mitmRequested = cb.mitmRequested || auth.MITM()
		if err := e.RequestPairing(h); err != nil {
			e.log.Errorf("pairing after security request on %d: %v", h, err)
		}
		return
	}
	if cb.encrypted {
		return
	}
	if err := e.enableEncryption(cb, auth.MITM()); err != nil {
		e.log.Errorf("encryption after security request on %d: %v", h, err)
	}
}

// HandlePairingCompleted finishes a successful pairing: the negotiated
// flags are persisted, the resolving list is refreshed from the fresh
// identity, the failure bookkeeping is cleared and success is reported.
func (e *Engine) HandlePairingCompleted(h blehost.ConnHandle) {
	cb, err := e.cbByConn(h)
	if err != nil {
		e.log.Errorf("pairing completed on unknown connection %d", h)
		return
	}

	flags, _ := e.db.Flags(cb.db)
	flags.Authenticated = cb.mitmPerformed
	flags.SecureConnections = !cb.legacyPairing
	if flags.EncryptionKeySize == 0 {
		flags.EncryptionKeySize = e.maxKeySize
	}
	e.db.SetFlags(cb.db, flags)
	e.db.Sync(cb.db)

	if e.resolver != nil {
		if id, ok := e.db.PeerIdentity(cb.db); ok {
			t := blehost.AddrTypeRandomStatic
			if id.PeerAddrIsPublic {
				t = blehost.AddrTypePublic
			}
			if err := e.resolver.AddResolvingListEntry(t, id.PeerAddr, id.IRK); err != nil {
				e.log.Warnf("resolving list refresh for %s: %v", id.PeerAddr, err)
			}
		}
	}

	cb.pairingInProgress = false
	cb.initiator = false
	cb.scPaired = !cb.legacyPairing
	// a fresh pairing settles any earlier encryption failure
	cb.encryptionFailed = false
	cb.encryptionRequested = false

	e.handler.OnPairingResult(h, blehost.PairingSuccess, 0)
}

// HandlePairingFailed reports a terminal pairing error. When the pairing
// was the automatic retry of a failed encryption attempt, the application
// additionally gets the pending encryption failure it never saw.
func (e *Engine) HandlePairingFailed(h blehost.ConnHandle, reason blehost.PairingFailure) {
	cb, err := e.cbByConn(h)
	if err != nil {
		e.log.Errorf("pairing failed on unknown connection %d", h)
		return
	}

	if cb.encryptionRequested && cb.encryptionFailed {
		cb.encryptionRequested = false
		e.handler.OnLinkEncryptionResult(h, blehost.NotEncrypted)
	}
	cb.pairingInProgress = false
	cb.initiator = false

	e.handler.OnPairingResult(h, blehost.PairingFailed, reason)
}

// HandlePairingTimedOut reports a pairing protocol timeout.
func (e *Engine) HandlePairingTimedOut(h blehost.ConnHandle) {
	cb, err := e.cbByConn(h)
	if err != nil {
		return
	}
	cb.pairingInProgress = false
	cb.initiator = false
	e.handler.OnPairingResult(h, blehost.PairingTimedOut, 0)
}

// RequestAuthentication escalates a link to MITM protected encryption,
// pairing again only when the stored key was not already MITM protected.
func (e *Engine) RequestAuthentication(h blehost.ConnHandle) error {
	cb, err := e.cbByConn(h)
	if err != nil {
		return err
	}
	if cb.encrypted && cb.authenticated {
		e.handler.OnLinkEncryptionResult(h, e.linkEncryptionState(cb))
		return nil
	}

	flags, ok := e.db.Flags(cb.db)
	if ok && flags.LTKStored && flags.Authenticated {
		return e.enableEncryption(cb, true)
	}

	cb.mitmRequested = true
	return e.RequestPairing(h)
}

// PasskeyEntered forwards a user entered passkey to the controller.
func (e *Engine) PasskeyEntered(h blehost.ConnHandle, pk blehost.Passkey) error {
	if _, err := e.cbByConn(h); err != nil {
		return err
	}
	if pk > 999999 {
		return errors.Wrap(blehost.ErrInvalidParameter, "passkey above 999999")
	}
	return errors.Wrap(e.ctrl.PasskeyReply(h, pk), "passkey reply")
}

// ConfirmationEntered forwards a numeric comparison verdict.
func (e *Engine) ConfirmationEntered(h blehost.ConnHandle, match bool) error {
	if _, err := e.cbByConn(h); err != nil {
		return err
	}
	return errors.Wrap(e.ctrl.ConfirmationReply(h, match), "confirmation reply")
}

// SendKeypressNotification forwards passkey entry progress to the peer.
func (e *Engine) SendKeypressNotification(h blehost.ConnHandle, k blehost.Keypress) error {
	if _, err := e.cbByConn(h); err != nil {
		return err
	}
	if !e.keypressEnabled {
		return errors.Wrap(blehost.ErrInvalidState, "keypress notifications disabled")
	}
	return errors.Wrap(e.ctrl.SendKeypressNotification(h, k), "keypress notification")
}

// HandlePasskeyDisplay forwards the passkey to show to the user. The
// pairing performs MITM protection from here on.
func (e *Engine) HandlePasskeyDisplay(h blehost.ConnHandle, pk blehost.Passkey) {
	if cb, err := e.cbByConn(h); err == nil {
		cb.mitmPerformed = true
	}
	e.handler.OnPasskeyDisplay(h, pk)
}

// HandlePasskeyRequest asks the application for a passkey, or answers
// directly with the fixed display passkey when one is configured.
func (e *Engine) HandlePasskeyRequest(h blehost.ConnHandle) {
	if cb, err := e.cbByConn(h); err == nil {
		cb.mitmPerformed = true
	}
	if e.hasDisplayKey {
		if err := e.ctrl.PasskeyReply(h, e.displayPasskey); err != nil {
			e.log.Errorf("fixed passkey reply on %d: %v", h, err)
		}
		return
	}
	e.handler.OnPasskeyRequest(h)
}

// HandleConfirmationRequest asks the application for a numeric comparison
// verdict.
func (e *Engine) HandleConfirmationRequest(h blehost.ConnHandle) {
	if cb, err := e.cbByConn(h); err == nil {
		cb.mitmPerformed = true
	}
	e.handler.OnConfirmationRequest(h)
}

// HandleKeypress forwards peer passkey entry progress.
func (e *Engine) HandleKeypress(h blehost.ConnHandle, k blehost.Keypress) {
	e.handler.OnKeypress(h, k)
}
