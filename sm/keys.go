package sm

import (
	"github.com/pkg/errors"

	"github.com/blelabs/blehost"
)

// Key distribution handlers. Each persists the received material against
// the connection's database entry, tagging MITM protection from the
// control block at the moment of distribution.

// HandleDistributedLTK stores the peer's long term key.
func (e *Engine) HandleDistributedLTK(h blehost.ConnHandle, ltk blehost.LTK) {
	cb, err := e.cbByConn(h)
	if err != nil {
		e.log.Errorf("ltk distribution on unknown connection %d", h)
		return
	}
	e.db.SetPeerLTK(cb.db, ltk)
	flags, _ := e.db.Flags(cb.db)
	flags.LTKStored = true
	flags.LTKMITMProtected = cb.mitmPerformed
	e.db.SetFlags(cb.db, flags)
}

// HandleDistributedEDIVRand stores the peer's legacy key identifier.
func (e *Engine) HandleDistributedEDIVRand(h blehost.ConnHandle, ed blehost.EDIVRand) {
	cb, err := e.cbByConn(h)
	if err != nil {
		return
	}
	e.db.SetPeerEDIVRand(cb.db, ed)
}

// HandleDistributedIRK stores the peer's identity resolving key.
func (e *Engine) HandleDistributedIRK(h blehost.ConnHandle, irk blehost.IRK) {
	cb, err := e.cbByConn(h)
	if err != nil {
		return
	}
	e.db.SetPeerIRK(cb.db, irk)
	flags, _ := e.db.Flags(cb.db)
	flags.IRKStored = true
	e.db.SetFlags(cb.db, flags)
}

// HandleDistributedBdaddr stores the peer's identity address.
func (e *Engine) HandleDistributedBdaddr(h blehost.ConnHandle, addrType blehost.AddrType, addr blehost.Addr) {
	cb, err := e.cbByConn(h)
	if err != nil {
		return
	}
	public := addrType == blehost.AddrTypePublic
	e.db.SetPeerBdaddr(cb.db, addr, public)
	flags, _ := e.db.Flags(cb.db)
	flags.PeerAddr = addr
	flags.PeerAddrIsPublic = public
	e.db.SetFlags(cb.db, flags)
}

// HandleDistributedCSRK stores the peer's signing key and announces it.
func (e *Engine) HandleDistributedCSRK(h blehost.ConnHandle, csrk blehost.CSRK) {
	cb, err := e.cbByConn(h)
	if err != nil {
		return
	}
	e.db.SetPeerCSRK(cb.db, blehost.EntrySigning{CSRK: csrk})
	flags, _ := e.db.Flags(cb.db)
	flags.CSRKStored = true
	flags.CSRKMITMProtected = cb.mitmPerformed
	e.db.SetFlags(cb.db, flags)

	cb.csrkStored = true
	cb.csrkMITM = cb.mitmPerformed
	e.handler.OnSigningKey(h, &csrk, cb.mitmPerformed)
}

// HandleDistributedLocalLTK stores the key we handed to the peer.
func (e *Engine) HandleDistributedLocalLTK(h blehost.ConnHandle, ltk blehost.LTK) {
	cb, err := e.cbByConn(h)
	if err != nil {
		return
	}
	e.db.SetLocalLTK(cb.db, ltk)
}

// HandleDistributedLocalEDIVRand stores our legacy key identifier.
func (e *Engine) HandleDistributedLocalEDIVRand(h blehost.ConnHandle, ed blehost.EDIVRand) {
	cb, err := e.cbByConn(h)
	if err != nil {
		return
	}
	e.db.SetLocalEDIVRand(cb.db, ed)
}

// EnableSigning opts a link into signed data exchange. The local CSRK is
// generated lazily the first time any link needs it.
func (e *Engine) EnableSigning(h blehost.ConnHandle, enable bool) error {
	cb, err := e.cbByConn(h)
	if err != nil {
		return err
	}
	cb.signingRequested = enable
	if !enable {
		return nil
	}
	return e.initLocalSigning()
}

// initLocalSigning makes sure a local CSRK exists and is installed in the
// controller.
func (e *Engine) initLocalSigning() error {
	s, ok := e.db.LocalCSRK()
	if !ok {
		var csrk blehost.CSRK
		if err := blehost.RandomBytes(csrk[:]); err != nil {
			return errors.Wrap(err, "generate csrk")
		}
		s = blehost.EntrySigning{CSRK: csrk}
		e.db.SetLocalCSRK(s)
	}
	return errors.Wrap(e.ctrl.SetCSRK(s.CSRK, s.Counter), "install csrk")
}

// acquireSigningKey delivers the peer signing key for a signed data mode,
// pairing first when no adequate key is stored.
func (e *Engine) acquireSigningKey(cb *controlBlock, mitm bool) error {
	if err := e.initLocalSigning(); err != nil {
		return err
	}
	cb.signingRequested = true

	if cb.csrkStored && (!mitm || cb.csrkMITM) {
		s, ok := e.db.PeerSigning(cb.db)
		if ok {
			if err := e.ctrl.SetPeerCSRK(cb.conn, s.CSRK, cb.csrkMITM, s.Counter); err != nil {
				return errors.Wrap(err, "install peer csrk")
			}
			csrk := s.CSRK
			e.handler.OnSigningKey(cb.conn, &csrk, cb.csrkMITM)
			return nil
		}
	}

	cb.mitmRequested = cb.mitmRequested || mitm
	return e.RequestPairing(cb.conn)
}

// HandlePeerSignCounter persists the peer's monotonic signing counter.
func (e *Engine) HandlePeerSignCounter(h blehost.ConnHandle, counter uint32) {
	cb, err := e.cbByConn(h)
	if err != nil {
		return
	}
	e.db.SetPeerSignCounter(cb.db, counter)
}

// HandleLocalSignCounter persists our signing counter after a signature.
func (e *Engine) HandleLocalSignCounter(counter uint32) {
	e.db.SetLocalSignCounter(counter)
}

// HandleSigningVerificationFailure counts consecutive signature
// verification failures on a link. The third consecutive failure resets
// the counter and forces a fresh pairing, as central directly, as
// peripheral via a security request.
func (e *Engine) HandleSigningVerificationFailure(h blehost.ConnHandle) {
	cb, err := e.cbByConn(h)
	if err != nil {
		e.log.Errorf("signing failure on unknown connection %d", h)
		return
	}

	cb.csrkFailures++
	if cb.csrkFailures < 3 {
		return
	}
	cb.csrkFailures = 0

	if cb.role == blehost.RoleCentral {
		if err := e.RequestPairing(h); err != nil {
			e.log.Errorf("re-pairing after signing failures on %d: %v", h, err)
		}
		return
	}
	auth := e.localAuthMask(cb)
	if err := e.ctrl.PeripheralSecurityRequest(h, auth); err != nil {
		e.log.Errorf("security request after signing failures on %d: %v", h, err)
	}
}
