package sm

import (
	"crypto/elliptic"
	"crypto/rand"

	"github.com/pkg/errors"
	ecdh "github.com/wsddn/go-ecdh"

	"github.com/blelabs/blehost"
	"github.com/blelabs/blehost/sliceops"
)

// oobState holds the out of band material of the device: the locally
// generated secure connections random/confirm pair and legacy TK, and the
// latest material received from a peer over the out of band channel.
type oobState struct {
	localAddr    blehost.Addr
	localRandom  [16]byte
	localConfirm [16]byte
	haveLocal    bool

	legacyTK     [16]byte
	haveLegacyTK bool

	peerAddr    blehost.Addr
	peerRandom  [16]byte
	peerConfirm [16]byte
	havePeer    bool
}

// GenerateOOB produces fresh out of band material bound to a local
// address and hands it to the application for transport over the out of
// band channel. A legacy TK is always produced; under secure connections
// support a random/confirm pair derived from a fresh P-256 key is too.
func (e *Engine) GenerateOOB(addr blehost.Addr) error {
	var tk [16]byte
	if err := blehost.RandomBytes(tk[:]); err != nil {
		return err
	}
	e.oob.legacyTK = tk
	e.oob.haveLegacyTK = true
	e.handler.OnLegacyPairingOOBGenerated(addr, tk)

	if !e.scSupported {
		return nil
	}

	curve := ecdh.NewEllipticECDH(elliptic.P256())
	_, pub, err := curve.GenerateKey(rand.Reader)
	if err != nil {
		return errors.Wrap(err, "generate oob key pair")
	}

	// Marshal yields 0x04 || X || Y big endian, f4 wants the X
	// coordinate little endian
	raw := curve.Marshal(pub)
	x := sliceops.SwapBuf(raw[1:33])

	var r [16]byte
	if err := blehost.RandomBytes(r[:]); err != nil {
		return err
	}
	confirm, err := smpF4(x, x, r[:], 0)
	if err != nil {
		return err
	}

	e.oob.localAddr = addr
	e.oob.localRandom = r
	copy(e.oob.localConfirm[:], confirm)
	e.oob.haveLocal = true

	e.handler.OnOOBGenerated(addr, e.oob.localRandom, e.oob.localConfirm)
	return nil
}

// SetOOBDataUsage declares whether pairing on a link should use out of
// band data and whether that channel is MITM protected.
func (e *Engine) SetOOBDataUsage(h blehost.ConnHandle, enabled, mitmProtected bool) error {
	cb, err := e.cbByConn(h)
	if err != nil {
		return err
	}
	cb.attemptOOB = enabled
	cb.oobMITM = mitmProtected
	return nil
}

// OOBReceived stores secure connections out of band material obtained
// from a peer.
func (e *Engine) OOBReceived(addr blehost.Addr, random, confirm [16]byte) error {
	e.oob.peerAddr = addr
	e.oob.peerRandom = random
	e.oob.peerConfirm = confirm
	e.oob.havePeer = true
	return nil
}

// LegacyPairingOOBReceived feeds a legacy TK obtained out of band. If the
// controller already asked for it the reply goes out immediately,
// otherwise the key is latched against the link.
func (e *Engine) LegacyPairingOOBReceived(addrType blehost.AddrType, addr blehost.Addr, tk [16]byte) error {
	cb, err := e.cbByAddr(addrType, addr)
	if err != nil {
		return err
	}
	cb.legacyOOBTK = tk
	cb.haveLegacyOOBTK = true
	if cb.legacyOOBPending {
		cb.legacyOOBPending = false
		return errors.Wrap(e.ctrl.LegacyPairingOOBReply(cb.conn, tk), "legacy oob reply")
	}
	return nil
}

// HandleLegacyOOBRequest answers a controller request for the legacy TK,
// latching the request when the key has not arrived yet.
func (e *Engine) HandleLegacyOOBRequest(h blehost.ConnHandle) {
	cb, err := e.cbByConn(h)
	if err != nil {
		e.log.Errorf("legacy oob request on unknown connection %d", h)
		return
	}
	cb.mitmPerformed = cb.oobMITM

	if cb.haveLegacyOOBTK {
		if err := e.ctrl.LegacyPairingOOBReply(h, cb.legacyOOBTK); err != nil {
			e.log.Errorf("legacy oob reply on %d: %v", h, err)
		}
		return
	}
	cb.legacyOOBPending = true
	e.handler.OnLegacyPairingOOBRequest(h)
}

// HandleOOBRequest answers a controller request for secure connections
// out of band material. Pairing is cancelled when the peer's material
// never arrived.
func (e *Engine) HandleOOBRequest(h blehost.ConnHandle) {
	cb, err := e.cbByConn(h)
	if err != nil {
		e.log.Errorf("oob request on unknown connection %d", h)
		return
	}

	if !e.oob.havePeer || e.oob.peerAddr != cb.addr {
		if err := e.ctrl.CancelPairing(h, blehost.PairingFailureOOBNotAvailable); err != nil {
			e.log.Errorf("cancel pairing on %d: %v", h, err)
		}
		return
	}
	cb.mitmPerformed = cb.oobMITM

	err = e.ctrl.SecureConnectionsOOBReply(h, e.oob.localRandom, e.oob.peerRandom, e.oob.peerConfirm)
	if err != nil {
		e.log.Errorf("oob reply on %d: %v", h, err)
	}
}
