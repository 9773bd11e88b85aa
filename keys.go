package blehost

// Key material exchanged during pairing. All keys are stored little endian.
type (
	// LTK is the long term key used to encrypt the link.
	LTK [16]byte
	// IRK is the identity resolving key used to resolve private addresses.
	IRK [16]byte
	// CSRK is the connection signature resolving key used to sign data.
	CSRK [16]byte
)

// EDIVRand identifies a stored legacy LTK.
type EDIVRand struct {
	EDIV uint16
	Rand uint64
}

// Passkey is a 6 digit numeric pairing passkey (0..999999).
type Passkey uint32

// Keypress is a passkey entry progress notification forwarded to the peer
// during pairing.
type Keypress uint8

const (
	KeypressEntryStarted Keypress = iota
	KeypressDigitEntered
	KeypressDigitErased
	KeypressCleared
	KeypressEntryCompleted
)

// AuthMask is the authentication requirement bitmask exchanged in pairing
// requests. Combine and inspect it through the named accessors, not raw
// bit arithmetic.
type AuthMask uint8

const (
	authBondable AuthMask = 1 << 0
	authMITM     AuthMask = 1 << 2
	authSC       AuthMask = 1 << 3
	authKeypress AuthMask = 1 << 4
)

func (m AuthMask) Bondable() bool          { return m&authBondable != 0 }
func (m AuthMask) MITM() bool              { return m&authMITM != 0 }
func (m AuthMask) SecureConnections() bool { return m&authSC != 0 }
func (m AuthMask) Keypress() bool          { return m&authKeypress != 0 }

func (m AuthMask) with(bit AuthMask, on bool) AuthMask {
	if on {
		return m | bit
	}
	return m &^ bit
}

func (m AuthMask) WithBondable(on bool) AuthMask          { return m.with(authBondable, on) }
func (m AuthMask) WithMITM(on bool) AuthMask              { return m.with(authMITM, on) }
func (m AuthMask) WithSecureConnections(on bool) AuthMask { return m.with(authSC, on) }
func (m AuthMask) WithKeypress(on bool) AuthMask          { return m.with(authKeypress, on) }

// KeyDistribution is the key distribution bitmask negotiated during
// pairing. Legality checks combine masks through Intersect/Union so the
// policy stays auditable.
type KeyDistribution uint8

const (
	KeyDistEncryption KeyDistribution = 1 << 0
	KeyDistIdentity   KeyDistribution = 1 << 1
	KeyDistSigning    KeyDistribution = 1 << 2
	KeyDistLink       KeyDistribution = 1 << 3

	KeyDistNone KeyDistribution = 0
	KeyDistAll  KeyDistribution = KeyDistEncryption | KeyDistIdentity | KeyDistSigning | KeyDistLink
)

func (k KeyDistribution) Encryption() bool { return k&KeyDistEncryption != 0 }
func (k KeyDistribution) Identity() bool   { return k&KeyDistIdentity != 0 }
func (k KeyDistribution) Signing() bool    { return k&KeyDistSigning != 0 }
func (k KeyDistribution) Link() bool       { return k&KeyDistLink != 0 }

func (k KeyDistribution) Intersect(o KeyDistribution) KeyDistribution { return k & o }
func (k KeyDistribution) Union(o KeyDistribution) KeyDistribution     { return k | o }

func (k KeyDistribution) with(bit KeyDistribution, on bool) KeyDistribution {
	if on {
		return k | bit
	}
	return k &^ bit
}

func (k KeyDistribution) WithEncryption(on bool) KeyDistribution { return k.with(KeyDistEncryption, on) }
func (k KeyDistribution) WithIdentity(on bool) KeyDistribution   { return k.with(KeyDistIdentity, on) }
func (k KeyDistribution) WithSigning(on bool) KeyDistribution    { return k.with(KeyDistSigning, on) }
func (k KeyDistribution) WithLink(on bool) KeyDistribution       { return k.with(KeyDistLink, on) }

// LinkEncryption is the encryption state of a live link.
type LinkEncryption uint8

const (
	NotEncrypted LinkEncryption = iota
	EncryptionInProgress
	Encrypted
	EncryptedWithMITM
	EncryptedWithSCAndMITM
)

func (e LinkEncryption) String() string {
	switch e {
	case NotEncrypted:
		return "not-encrypted"
	case EncryptionInProgress:
		return "encryption-in-progress"
	case Encrypted:
		return "encrypted"
	case EncryptedWithMITM:
		return "encrypted-mitm"
	case EncryptedWithSCAndMITM:
		return "encrypted-sc-mitm"
	default:
		return "unknown"
	}
}

// IOCapability describes the local input/output means available for
// pairing.
type IOCapability uint8

const (
	IODisplayOnly IOCapability = iota
	IODisplayYesNo
	IOKeyboardOnly
	IONoInputNoOutput
	IOKeyboardDisplay
)

// SecurityMode is the application facing link security target.
type SecurityMode uint8

const (
	SecurityModeEncryptionOpenLink SecurityMode = iota
	SecurityModeEncryptionNoMITM
	SecurityModeEncryptionWithMITM
	SecurityModeSignedNoMITM
	SecurityModeSignedWithMITM
)

// PairingStatus is the terminal status of a pairing procedure.
type PairingStatus uint8

const (
	PairingSuccess PairingStatus = iota
	PairingTimedOut
	PairingFailed
)
