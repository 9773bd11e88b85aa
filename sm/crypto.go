package sm

import (
	"crypto/aes"
	"crypto/subtle"
	"encoding/binary"

	"github.com/aead/cmac"
	"github.com/pkg/errors"

	"github.com/blelabs/blehost"
	"github.com/blelabs/blehost/sliceops"
)

// aesCMAC computes AES-CMAC over little endian buffers. Key and message
// arrive LSB first as they do on the wire, the cipher wants them MSB
// first, so both are swapped going in and the tag is swapped coming out.
func aesCMAC(key, msg []byte) ([]byte, error) {
	block, err := aes.NewCipher(sliceops.SwapBuf(key))
	if err != nil {
		return nil, errors.Wrap(err, "cmac key")
	}
	tag, err := cmac.Sum(sliceops.SwapBuf(msg), block, aes.BlockSize)
	if err != nil {
		return nil, errors.Wrap(err, "cmac")
	}
	return sliceops.SwapBuf(tag), nil
}

// smpF4 is the confirm value generation function: AES-CMAC_X(U || V || Z).
// U and V are 32 byte public key coordinates, X the 16 byte random, all
// little endian; the concatenation order is reversed accordingly.
func smpF4(u, v, x []byte, z byte) ([]byte, error) {
	if len(u) != 32 || len(v) != 32 || len(x) != 16 {
		return nil, errors.Wrap(blehost.ErrInvalidParameter, "f4 operand length")
	}
	m := make([]byte, 0, 65)
	m = append(m, z)
	m = append(m, v...)
	m = append(m, u...)
	return aesCMAC(x, m)
}

const signatureLength = 8

// signData computes the 8 byte signature of a signed write: the CMAC of
// the message with the sign counter appended, truncated to the low half.
func signData(csrk blehost.CSRK, message []byte, counter uint32) ([signatureLength]byte, error) {
	var sig [signatureLength]byte

	m := make([]byte, len(message)+4)
	copy(m, message)
	binary.LittleEndian.PutUint32(m[len(message):], counter)

	tag, err := aesCMAC(csrk[:], m)
	if err != nil {
		return sig, err
	}
	copy(sig[:], tag[:signatureLength])
	return sig, nil
}

// verifySignature checks a peer signature in constant time.
func verifySignature(csrk blehost.CSRK, message []byte, counter uint32, sig [signatureLength]byte) (bool, error) {
	want, err := signData(csrk, message, counter)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(want[:], sig[:]) == 1, nil
}
