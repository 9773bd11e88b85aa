package blehost

// ConnHandle identifies a live link. Assigned by the controller on
// connection complete.
type ConnHandle uint16

// AdvHandle identifies an advertising set. Handle 0 is the implicit legacy
// set, extended sets are created explicitly.
type AdvHandle uint8

const (
	LegacyAdvHandle  AdvHandle = 0x00
	InvalidAdvHandle AdvHandle = 0xFF
)

// SyncHandle identifies an established periodic advertising sync.
type SyncHandle uint16

type Role uint8

const (
	RoleCentral Role = iota
	RolePeripheral
)

// PHY is a physical layer radio configuration.
type PHY uint8

const (
	PHYNone  PHY = 0x00
	PHY1M    PHY = 0x01
	PHY2M    PHY = 0x02
	PHYCoded PHY = 0x03
)

// PHYSet is a bitmask of enabled PHYs.
type PHYSet uint8

const (
	PHYSet1M    PHYSet = 1 << 0
	PHYSet2M    PHYSet = 1 << 1
	PHYSetCoded PHYSet = 1 << 2
)

func (s PHYSet) Has1M() bool    { return s&PHYSet1M != 0 }
func (s PHYSet) Has2M() bool    { return s&PHYSet2M != 0 }
func (s PHYSet) HasCoded() bool { return s&PHYSetCoded != 0 }

func (s PHYSet) Count() int {
	n := 0
	for b := s; b != 0; b >>= 1 {
		if b&1 != 0 {
			n++
		}
	}
	return n
}

// FragmentOp selects how a chunk of advertising data relates to the whole
// payload when it does not fit a single controller transfer.
type FragmentOp uint8

const (
	FragmentIntermediate FragmentOp = 0x00
	FragmentFirst        FragmentOp = 0x01
	FragmentLast         FragmentOp = 0x02
	FragmentComplete     FragmentOp = 0x03
)

// DuplicatesFilter controls advertising report duplicate filtering while
// scanning.
type DuplicatesFilter uint8

const (
	DuplicatesDisable DuplicatesFilter = iota
	DuplicatesEnable
	DuplicatesEnablePerPeriod
)

// FilterPolicy selects whitelist usage for advertising, scanning and
// connection initiation.
type FilterPolicy uint8

const (
	FilterAcceptAll FilterPolicy = iota
	FilterWhitelist
)

// OwnAddressType selects which local address the controller puts on air.
type OwnAddressType uint8

const (
	OwnAddressPublic OwnAddressType = iota
	OwnAddressRandom
	OwnAddressResolvableOrPublic
	OwnAddressResolvableOrRandom
)

// DisconnectReason is the HCI reason code used on disconnect.
type DisconnectReason uint8

const (
	DisconnectAuthenticationFailure    DisconnectReason = 0x05
	DisconnectRemoteUserTermination    DisconnectReason = 0x13
	DisconnectLowResources             DisconnectReason = 0x14
	DisconnectPowerOff                 DisconnectReason = 0x15
	DisconnectUnacceptableConnInterval DisconnectReason = 0x3B
)

// Feature is a controller capability the engines may probe before use.
type Feature uint8

const (
	FeatureExtendedAdvertising Feature = iota
	FeaturePeriodicAdvertising
	FeaturePrivacy
	FeatureSecureConnections
	Feature2MPHY
	FeatureCodedPHY
)

// AdvType is the advertising event type of a set.
type AdvType uint8

const (
	AdvConnectableUndirected AdvType = iota
	AdvConnectableDirected
	AdvScannableUndirected
	AdvNonConnectableUndirected
	AdvConnectableDirectedLowDuty
)

// Connectable reports whether the type accepts connection requests.
func (t AdvType) Connectable() bool {
	switch t {
	case AdvConnectableUndirected, AdvConnectableDirected, AdvConnectableDirectedLowDuty:
		return true
	default:
		return false
	}
}

// AdvParams is the full parameter block of an advertising set.
type AdvParams struct {
	MinInterval uint16 // 0.625 ms units
	MaxInterval uint16 // 0.625 ms units
	Type        AdvType

	OwnAddrType  OwnAddressType
	PeerAddrType AddrType
	PeerAddr     Addr

	ChannelMap uint8 // bit0 ch37, bit1 ch38, bit2 ch39
	Filter     FilterPolicy
	TxPower    int8

	PrimaryPHY       PHY
	SecondaryPHY     PHY
	SecondaryMaxSkip uint8

	UseLegacyPDU            bool
	Anonymous               bool
	IncludeTxPower          bool
	ScanRequestNotification bool
}

// DefaultAdvParams returns the parameters applied to a freshly created set.
func DefaultAdvParams() AdvParams {
	return AdvParams{
		MinInterval:  0x0020,
		MaxInterval:  0x0020,
		Type:         AdvConnectableUndirected,
		ChannelMap:   0x07,
		PrimaryPHY:   PHY1M,
		SecondaryPHY: PHY1M,
		UseLegacyPDU: true,
	}
}

// ScanPHYParams configures scanning on one PHY.
type ScanPHYParams struct {
	Active   bool
	Interval uint16 // 0.625 ms units
	Window   uint16 // 0.625 ms units
}

// ScanParams configures scanning across the scannable PHYs.
type ScanParams struct {
	OwnAddrType OwnAddressType
	Filter      FilterPolicy
	PHYs        PHYSet // scanning PHYs, 1M and/or coded
	P1M         ScanPHYParams
	Coded       ScanPHYParams
}

// DefaultScanParams returns active scanning on 1M with conservative timing.
func DefaultScanParams() ScanParams {
	return ScanParams{
		PHYs: PHYSet1M,
		P1M:  ScanPHYParams{Active: true, Interval: 0x0040, Window: 0x0020},
	}
}

// ConnPHYParams is one per-PHY slot of connection establishment parameters.
type ConnPHYParams struct {
	ScanInterval       uint16 // 0.625 ms units
	ScanWindow         uint16 // 0.625 ms units
	MinInterval        uint16 // 1.25 ms units
	MaxInterval        uint16 // 1.25 ms units
	Latency            uint16
	SupervisionTimeout uint16 // 10 ms units
	MinEventLength     uint16
	MaxEventLength     uint16
}

// ConnectionParams carries one parameter slot per enabled PHY; a nil slot
// means the PHY is not used for initiation.
type ConnectionParams struct {
	Filter      FilterPolicy
	OwnAddrType OwnAddressType

	PHY1M    *ConnPHYParams
	PHY2M    *ConnPHYParams
	PHYCoded *ConnPHYParams
}

// EnabledPHYs returns the slots that are set, in PHY order.
func (p ConnectionParams) EnabledPHYs() []PHY {
	var phys []PHY
	if p.PHY1M != nil {
		phys = append(phys, PHY1M)
	}
	if p.PHY2M != nil {
		phys = append(phys, PHY2M)
	}
	if p.PHYCoded != nil {
		phys = append(phys, PHYCoded)
	}
	return phys
}

// Slot returns the parameter slot of the given PHY, nil when disabled.
func (p ConnectionParams) Slot(phy PHY) *ConnPHYParams {
	switch phy {
	case PHY1M:
		return p.PHY1M
	case PHY2M:
		return p.PHY2M
	case PHYCoded:
		return p.PHYCoded
	default:
		return nil
	}
}

// ConnUpdateParams is a connection parameter update proposal.
type ConnUpdateParams struct {
	MinInterval        uint16 // 1.25 ms units
	MaxInterval        uint16 // 1.25 ms units
	Latency            uint16
	SupervisionTimeout uint16 // 10 ms units
	MinEventLength     uint16
	MaxEventLength     uint16
}

// WhitelistEntry is one controller filter list slot. Only public and random
// static addresses are legal entries.
type WhitelistEntry struct {
	AddrType AddrType
	Addr     Addr
}

// Controller is the narrow abstraction of the radio controller consumed by
// the connection and advertising engine. Commands validate synchronously
// and complete asynchronously through events handed back to the engine on
// the dispatch queue.
type Controller interface {
	// Identity.
	DeviceAddress() Addr
	SetRandomAddress(Addr) error
	SetAdvertisingSetRandomAddress(AdvHandle, Addr) error

	// Capabilities, fixed for the process lifetime.
	FeatureSupported(Feature) bool
	MaxAdvertisingSets() uint8
	MaxAdvertisingDataLength() int
	MaxConnectableAdvertisingDataLength() int
	MaxActiveSetAdvertisingDataLength() int
	MaxAdvertisingChunkLength() int

	// Advertising.
	SetAdvertisingParameters(AdvHandle, AdvParams) error
	SetAdvertisingData(h AdvHandle, op FragmentOp, scanResponse bool, data []byte) error
	AdvertisingEnable(h AdvHandle, enable bool, duration uint16, maxEvents uint8) error
	RemoveAdvertisingSet(AdvHandle) error
	ClearAdvertisingSets() error

	// Periodic advertising.
	SetPeriodicAdvertisingParameters(h AdvHandle, minInterval, maxInterval uint16, includeTxPower bool) error
	SetPeriodicAdvertisingData(AdvHandle, FragmentOp, []byte) error
	PeriodicAdvertisingEnable(AdvHandle, bool) error

	// Scanning.
	SetScanParameters(ScanParams) error
	ScanEnable(enable bool, filter DuplicatesFilter, duration, period uint16) error

	// Connections.
	CreateConnection(peerType AddrType, peer Addr, params ConnectionParams) error
	CancelConnection() error
	Disconnect(ConnHandle, DisconnectReason) error
	UpdateConnectionParameters(ConnHandle, ConnUpdateParams) error
	AcceptConnectionParameters(ConnHandle, ConnUpdateParams) error
	RejectConnectionParameters(ConnHandle, DisconnectReason) error

	// PHY control.
	ReadPHY(ConnHandle) error
	SetPHY(h ConnHandle, tx, rx PHYSet) error
	SetDefaultPHY(tx, rx PHYSet) error

	// Filter lists.
	WhitelistCapacity() int
	AddWhitelistEntry(WhitelistEntry) error
	RemoveWhitelistEntry(WhitelistEntry) error
	ClearWhitelist() error
	ResolvingListCapacity() int
	AddResolvingListEntry(peerType AddrType, peer Addr, irk IRK) error
	RemoveResolvingListEntry(peerType AddrType, peer Addr) error
	ClearResolvingList() error
	SetAddressResolution(bool) error

	// Periodic sync and advertiser list.
	CreatePeriodicSync(useList bool, sid uint8, peerType AddrType, peer Addr, maxSkip, timeout uint16) error
	CancelPeriodicSyncCreate() error
	TerminatePeriodicSync(SyncHandle) error
	AddPeriodicAdvertiserListEntry(peerType AddrType, peer Addr, sid uint8) error
	RemovePeriodicAdvertiserListEntry(peerType AddrType, peer Addr, sid uint8) error
	ClearPeriodicAdvertiserList() error
	PeriodicAdvertiserListCapacity() int
}

// PairingFailure is the SMP failure reason carried on pairing cancellation
// and in pairing failed reports.
type PairingFailure uint8

const (
	PairingFailurePasskeyEntryFailed  PairingFailure = 0x01
	PairingFailureOOBNotAvailable     PairingFailure = 0x02
	PairingFailureAuthenticationReqs  PairingFailure = 0x03
	PairingFailureConfirmValueFailed  PairingFailure = 0x04
	PairingFailureNotSupported        PairingFailure = 0x05
	PairingFailureEncryptionKeySize   PairingFailure = 0x06
	PairingFailureCommandNotSupported PairingFailure = 0x07
	PairingFailureUnspecified         PairingFailure = 0x08
	PairingFailureRepeatedAttempts    PairingFailure = 0x09
	PairingFailureInvalidParameters   PairingFailure = 0x0A
	PairingFailureDHKeyCheckFailed    PairingFailure = 0x0B
	PairingFailureNumericComparison   PairingFailure = 0x0C
)

// SecurityController is the security specific half of the controller
// abstraction, consumed by the pairing and key distribution engine.
type SecurityController interface {
	InitializeSecurity() error
	ResetSecurity() error
	SecureConnectionsSupported() bool

	SetIOCapability(IOCapability) error
	SetDisplayPasskey(Passkey) error
	SetAuthenticationTimeout(ConnHandle, uint32) error // milliseconds
	SetEncryptionKeyRequirements(minSize, maxSize uint8) error

	SendPairingRequest(h ConnHandle, oob bool, auth AuthMask, initiatorDist, responderDist KeyDistribution) error
	SendPairingResponse(h ConnHandle, oob bool, auth AuthMask, initiatorDist, responderDist KeyDistribution) error
	CancelPairing(ConnHandle, PairingFailure) error
	PeripheralSecurityRequest(ConnHandle, AuthMask) error

	EnableEncryption(h ConnHandle, ltk LTK, mitm bool) error
	EnableLegacyEncryption(h ConnHandle, ltk LTK, ed EDIVRand, mitm bool) error
	SetLTK(h ConnHandle, ltk LTK, mitm, secureConnections bool) error
	SetLTKNotFound(ConnHandle) error

	SetCSRK(csrk CSRK, signCounter uint32) error
	SetPeerCSRK(h ConnHandle, csrk CSRK, mitm bool, signCounter uint32) error
	RemovePeerCSRK(ConnHandle) error

	PasskeyReply(ConnHandle, Passkey) error
	ConfirmationReply(ConnHandle, bool) error
	SendKeypressNotification(ConnHandle, Keypress) error
	LegacyPairingOOBReply(h ConnHandle, tk [16]byte) error
	SecureConnectionsOOBReply(h ConnHandle, localRandom, peerRandom, peerConfirm [16]byte) error
}
