package sm

import (
	"github.com/pkg/errors"

	"github.com/blelabs/blehost"
)

func (e *Engine) linkEncryptionState(cb *controlBlock) blehost.LinkEncryption {
	switch {
	case !cb.encrypted && cb.encryptionRequested:
		return blehost.EncryptionInProgress
	case !cb.encrypted:
		return blehost.NotEncrypted
	case cb.authenticated && cb.scPaired:
		return blehost.EncryptedWithSCAndMITM
	case cb.authenticated:
		return blehost.EncryptedWithMITM
	default:
		return blehost.Encrypted
	}
}

// LinkEncryptionState returns the current encryption state of a link.
func (e *Engine) LinkEncryptionState(h blehost.ConnHandle) (blehost.LinkEncryption, error) {
	cb, err := e.cbByConn(h)
	if err != nil {
		return blehost.NotEncrypted, err
	}
	return e.linkEncryptionState(cb), nil
}

// SetLinkSecurity drives a link towards a security mode target. Encryption
// modes escalate through stored keys or pairing, the signed data modes
// acquire a signing key instead of encrypting.
func (e *Engine) SetLinkSecurity(h blehost.ConnHandle, mode blehost.SecurityMode) error {
	cb, err := e.cbByConn(h)
	if err != nil {
		return err
	}
	if cb.pairingInProgress {
		return errors.Wrapf(blehost.ErrInvalidState, "pairing running on %d", h)
	}

	switch mode {
	case blehost.SecurityModeEncryptionOpenLink:
		if cb.encrypted {
			// lowering link security is forbidden
			return errors.Wrap(blehost.ErrOperationNotPermitted, "link already encrypted")
		}
		return nil
	case blehost.SecurityModeEncryptionNoMITM:
		return e.setLinkEncryption(cb, blehost.Encrypted)
	case blehost.SecurityModeEncryptionWithMITM:
		return e.setLinkEncryption(cb, blehost.EncryptedWithMITM)
	case blehost.SecurityModeSignedNoMITM:
		return e.acquireSigningKey(cb, false)
	case blehost.SecurityModeSignedWithMITM:
		return e.acquireSigningKey(cb, true)
	default:
		return errors.Wrapf(blehost.ErrInvalidParameter, "unknown security mode %d", mode)
	}
}

// setLinkEncryption walks the link towards the target encryption level.
func (e *Engine) setLinkEncryption(cb *controlBlock, target blehost.LinkEncryption) error {
	current := e.linkEncryptionState(cb)
	if current == blehost.EncryptionInProgress {
		return errors.Wrap(blehost.ErrInvalidState, "encryption change in progress")
	}
	if current >= target {
		e.handler.OnLinkEncryptionResult(cb.conn, current)
		return nil
	}

	mitm := target >= blehost.EncryptedWithMITM
	if !mitm {
		return e.enableEncryption(cb, false)
	}

	flags, ok := e.db.Flags(cb.db)
	if ok && flags.LTKStored && flags.Authenticated {
		return e.enableEncryption(cb, true)
	}
	cb.mitmRequested = true
	return e.RequestPairing(cb.conn)
}

// enableEncryption starts encryption from stored keys as central, falling
// back to pairing when the bond holds no LTK.
func (e *Engine) enableEncryption(cb *controlBlock, mitm bool) error {
	if cb.role != blehost.RoleCentral {
		auth := e.defaultAuth.WithMITM(mitm)
		return errors.Wrap(
			e.ctrl.PeripheralSecurityRequest(cb.conn, auth),
			"security request")
	}

	keys, ok := e.db.PeerKeys(cb.db)
	if !ok {
		cb.mitmRequested = mitm
		return e.RequestPairing(cb.conn)
	}

	cb.encryptionRequested = true
	cb.encryptionMITM = mitm
	if cb.scPaired {
		return errors.Wrap(e.ctrl.EnableEncryption(cb.conn, keys.LTK, mitm), "enable encryption")
	}
	return errors.Wrap(
		e.ctrl.EnableLegacyEncryption(cb.conn, keys.LTK, keys.ED, mitm),
		"enable encryption")
}

// HandleEncryptionResult advances encryption state from a controller
// event. A NOT_ENCRYPTED result right after our own encryption request
// triggers exactly one automatic re-pairing, covering a peer that silently
// dropped its key; the second consecutive failure is reported.
func (e *Engine) HandleEncryptionResult(h blehost.ConnHandle, result blehost.LinkEncryption) {
	cb, err := e.cbByConn(h)
	if err != nil {
		e.log.Errorf("encryption result on unknown connection %d", h)
		return
	}

	switch result {
	case blehost.NotEncrypted:
		if cb.encryptionRequested && !cb.encryptionFailed {
			cb.encryptionFailed = true
			cb.mitmRequested = cb.mitmRequested || cb.encryptionMITM
			if err := e.RequestPairing(h); err != nil {
				e.log.Errorf("pairing retry on %d: %v", h, err)
				cb.encryptionRequested = false
				e.handler.OnLinkEncryptionResult(h, blehost.NotEncrypted)
			}
			return
		}
		cb.encryptionRequested = false
		cb.encryptionFailed = false
		cb.encrypted = false
		cb.authenticated = false
		e.handler.OnLinkEncryptionResult(h, blehost.NotEncrypted)

	case blehost.Encrypted, blehost.EncryptedWithMITM, blehost.EncryptedWithSCAndMITM:
		cb.encryptionRequested = false
		cb.encryptionFailed = false
		cb.encrypted = true
		cb.authenticated = result >= blehost.EncryptedWithMITM
		cb.scPaired = cb.scPaired || result == blehost.EncryptedWithSCAndMITM
		e.handler.OnLinkEncryptionResult(h, result)

	default:
		e.log.Warnf("unexpected encryption result %s on %d", result, h)
	}
}

// HandleLTKRequest serves a peripheral re-encryption request under secure
// connections, where the key is identified by the connection alone.
func (e *Engine) HandleLTKRequest(h blehost.ConnHandle) {
	e.serveLTK(h, blehost.EDIVRand{})
}

// HandleLegacyLTKRequest serves a peripheral re-encryption request with a
// legacy EDIV/Rand key identifier.
func (e *Engine) HandleLegacyLTKRequest(h blehost.ConnHandle, ed blehost.EDIVRand) {
	e.serveLTK(h, ed)
}

func (e *Engine) serveLTK(h blehost.ConnHandle, ed blehost.EDIVRand) {
	cb, err := e.cbByConn(h)
	if err != nil {
		e.log.Errorf("ltk request on unknown connection %d", h)
		return
	}

	keys, ok := e.db.LocalKeys(cb.db, ed)
	if !ok {
		// a miss is answered, not swallowed
		if err := e.ctrl.SetLTKNotFound(h); err != nil {
			e.log.Errorf("ltk-not-found reply on %d: %v", h, err)
		}
		return
	}

	flags, _ := e.db.Flags(cb.db)
	if err := e.ctrl.SetLTK(h, keys.LTK, flags.Authenticated, flags.SecureConnections); err != nil {
		e.log.Errorf("ltk reply on %d: %v", h, err)
	}
}
