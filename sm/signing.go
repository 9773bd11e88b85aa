package sm

import (
	"github.com/pkg/errors"

	"github.com/blelabs/blehost"
)

// SignData signs an outgoing message with the local CSRK and advances the
// monotonic sign counter.
func (e *Engine) SignData(message []byte) ([signatureLength]byte, uint32, error) {
	var sig [signatureLength]byte

	s, ok := e.db.LocalCSRK()
	if !ok {
		return sig, 0, errors.Wrap(blehost.ErrInvalidState, "no local signing key")
	}

	sig, err := signData(s.CSRK, message, s.Counter)
	if err != nil {
		return sig, 0, err
	}

	counter := s.Counter
	e.db.SetLocalSignCounter(counter + 1)
	return sig, counter, nil
}

// VerifyPeerSignature checks an incoming signed message against the
// peer's CSRK. The peer counter is persisted on success; failures feed the
// consecutive failure counter that eventually forces re-pairing.
func (e *Engine) VerifyPeerSignature(h blehost.ConnHandle, message []byte, counter uint32, sig [signatureLength]byte) (bool, error) {
	cb, err := e.cbByConn(h)
	if err != nil {
		return false, err
	}

	s, ok := e.db.PeerSigning(cb.db)
	if !ok {
		return false, errors.Wrapf(blehost.ErrInvalidState, "no signing key for connection %d", h)
	}
	if counter < s.Counter {
		// replayed counter, treat as a verification failure
		e.HandleSigningVerificationFailure(h)
		return false, nil
	}

	ok, err = verifySignature(s.CSRK, message, counter, sig)
	if err != nil {
		return false, err
	}
	if !ok {
		e.HandleSigningVerificationFailure(h)
		return false, nil
	}

	cb.csrkFailures = 0
	e.db.SetPeerSignCounter(cb.db, counter+1)
	return true, nil
}
