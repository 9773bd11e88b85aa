package blehost

// AdvPDUType is the raw advertising PDU type delivered by the controller.
type AdvPDUType uint8

const (
	PDUAdvInd AdvPDUType = iota
	PDUAdvDirectInd
	PDUAdvScanInd
	PDUAdvNonconnInd
	PDUScanRsp
)

// AdvReport is an advertising report as delivered by the controller,
// before address resolution and filtering.
type AdvReport struct {
	PDUType          AdvPDUType
	AddrType         AddrType
	Addr             Addr
	DirectType       AddrType
	DirectAddr       Addr
	Directed         bool
	RSSI             int8
	TxPower          int8
	SID              uint8
	PrimaryPHY       PHY
	SecondaryPHY     PHY
	PeriodicInterval uint16
	Data             []byte
}

// Advertising report event type codes, extended advertising encoding.
const (
	EventTypeConnectableUndirected    uint16 = 0x0013
	EventTypeConnectableDirected      uint16 = 0x0015
	EventTypeScannableUndirected      uint16 = 0x0012
	EventTypeNonConnectableUndirected uint16 = 0x0010
	EventTypeScanResponse             uint16 = 0x001B
)

// AdvertisingReport is the application facing advertising report, after
// filtering and optional address resolution.
type AdvertisingReport struct {
	EventType    uint16
	AddrType     AddrType
	Addr         Addr
	DirectType   AddrType
	DirectAddr   Addr
	Directed     bool
	RSSI         int8
	TxPower      int8
	SID          uint8
	PrimaryPHY   PHY
	SecondaryPHY PHY
	PeriodicInterval uint16
	Data         []byte
}

// ConnectionCompleteEvent reports a new link, or a failed initiation when
// Status is non-zero.
type ConnectionCompleteEvent struct {
	Status       uint8
	Handle       ConnHandle
	Role         Role
	PeerAddrType AddrType
	PeerAddr     Addr

	LocalResolvableAddr Addr
	PeerResolvableAddr  Addr

	Interval           uint16 // 1.25 ms units
	Latency            uint16
	SupervisionTimeout uint16 // 10 ms units
}

// DisconnectionCompleteEvent reports a closed link with the HCI reason.
type DisconnectionCompleteEvent struct {
	Handle ConnHandle
	Reason uint8
}

// ConnParamsRequestEvent is a peer initiated parameter update proposal.
type ConnParamsRequestEvent struct {
	Handle             ConnHandle
	MinInterval        uint16
	MaxInterval        uint16
	Latency            uint16
	SupervisionTimeout uint16
}

// ConnUpdateCompleteEvent reports the outcome of a parameter update.
type ConnUpdateCompleteEvent struct {
	Status             uint8
	Handle             ConnHandle
	Interval           uint16
	Latency            uint16
	SupervisionTimeout uint16
}

// PHYUpdateEvent reports a PHY read or a completed PHY change.
type PHYUpdateEvent struct {
	Status uint8
	Handle ConnHandle
	TxPHY  PHY
	RxPHY  PHY
}

// AdvSetTerminatedEvent reports an advertising set going inactive, either
// on duration expiry or because a connection was created from it.
type AdvSetTerminatedEvent struct {
	Status          uint8
	Handle          AdvHandle
	ConnHandle      ConnHandle
	CompletedEvents uint8
	Connected       bool
}

// ScanRequestEvent reports a scanner probing one of our advertising sets.
type ScanRequestEvent struct {
	Handle          AdvHandle
	ScannerAddrType AddrType
	ScannerAddr     Addr
}

// PeriodicSyncEstablishedEvent reports the outcome of a sync attempt.
type PeriodicSyncEstablishedEvent struct {
	Status        uint8
	Handle        SyncHandle
	SID           uint8
	AddrType      AddrType
	Addr          Addr
	PHY           PHY
	Interval      uint16
	ClockAccuracy uint8
}

// PeriodicReportEvent carries data received over an established sync.
type PeriodicReportEvent struct {
	Handle     SyncHandle
	TxPower    int8
	RSSI       int8
	DataStatus uint8
	Data       []byte
}

// Handler receives engine events. All callbacks run serialized on the
// dispatch queue, never concurrently. Embed NopHandler to pick the subset
// that matters.
type Handler interface {
	// Advertising and scanning.
	OnAdvertisingStart(h AdvHandle)
	OnAdvertisingEnd(ev AdvSetTerminatedEvent)
	OnScanRequest(ev ScanRequestEvent)
	OnAdvertisingReport(r AdvertisingReport)
	OnScanTimeout()

	// Connections.
	OnConnectionComplete(err error, ev ConnectionCompleteEvent)
	OnDisconnectionComplete(ev DisconnectionCompleteEvent)
	OnUpdateConnectionParametersRequest(ev ConnParamsRequestEvent)
	OnConnectionParametersUpdateComplete(err error, ev ConnUpdateCompleteEvent)
	OnReadPHY(err error, ev PHYUpdateEvent)
	OnPHYUpdateComplete(err error, ev PHYUpdateEvent)

	// Periodic sync.
	OnPeriodicSyncEstablished(err error, ev PeriodicSyncEstablishedEvent)
	OnPeriodicReport(ev PeriodicReportEvent)
	OnPeriodicSyncLoss(h SyncHandle)

	// Privacy. Fires after a rotation pass with the fresh scanning and
	// advertising addresses, zero when the respective activity does not
	// rotate.
	OnPrivateAddressRotated(scanAddr, advAddr Addr)

	// Pairing.
	OnPairingRequest(h ConnHandle)
	OnPairingResult(h ConnHandle, status PairingStatus, reason PairingFailure)
	OnPasskeyDisplay(h ConnHandle, passkey Passkey)
	OnPasskeyRequest(h ConnHandle)
	OnConfirmationRequest(h ConnHandle)
	OnKeypress(h ConnHandle, k Keypress)
	OnLegacyPairingOOBRequest(h ConnHandle)
	OnLegacyPairingOOBGenerated(addr Addr, tk [16]byte)
	OnOOBGenerated(addr Addr, random, confirm [16]byte)

	// Keys and encryption.
	OnSigningKey(h ConnHandle, csrk *CSRK, mitm bool)
	OnLinkEncryptionResult(h ConnHandle, state LinkEncryption)

	// Bond table.
	OnWhitelistFromBondTable(entries []WhitelistEntry)
}

// NopHandler implements Handler with no-ops.
type NopHandler struct{}

var _ Handler = NopHandler{}

func (NopHandler) OnAdvertisingStart(AdvHandle)                                  {}
func (NopHandler) OnAdvertisingEnd(AdvSetTerminatedEvent)                        {}
func (NopHandler) OnScanRequest(ScanRequestEvent)                                {}
func (NopHandler) OnAdvertisingReport(AdvertisingReport)                         {}
func (NopHandler) OnScanTimeout()                                                {}
func (NopHandler) OnConnectionComplete(error, ConnectionCompleteEvent)           {}
func (NopHandler) OnDisconnectionComplete(DisconnectionCompleteEvent)            {}
func (NopHandler) OnUpdateConnectionParametersRequest(ConnParamsRequestEvent)    {}
func (NopHandler) OnConnectionParametersUpdateComplete(error, ConnUpdateCompleteEvent) {
}
func (NopHandler) OnReadPHY(error, PHYUpdateEvent)                               {}
func (NopHandler) OnPHYUpdateComplete(error, PHYUpdateEvent)                     {}
func (NopHandler) OnPeriodicSyncEstablished(error, PeriodicSyncEstablishedEvent) {}
func (NopHandler) OnPeriodicReport(PeriodicReportEvent)                          {}
func (NopHandler) OnPeriodicSyncLoss(SyncHandle)                                 {}
func (NopHandler) OnPrivateAddressRotated(Addr, Addr)                            {}
func (NopHandler) OnPairingRequest(ConnHandle)                                   {}
func (NopHandler) OnPairingResult(ConnHandle, PairingStatus, PairingFailure)     {}
func (NopHandler) OnPasskeyDisplay(ConnHandle, Passkey)                          {}
func (NopHandler) OnPasskeyRequest(ConnHandle)                                   {}
func (NopHandler) OnConfirmationRequest(ConnHandle)                              {}
func (NopHandler) OnKeypress(ConnHandle, Keypress)                               {}
func (NopHandler) OnLegacyPairingOOBRequest(ConnHandle)                          {}
func (NopHandler) OnLegacyPairingOOBGenerated(Addr, [16]byte)                    {}
func (NopHandler) OnOOBGenerated(Addr, [16]byte, [16]byte)                       {}
func (NopHandler) OnSigningKey(ConnHandle, *CSRK, bool)                          {}
func (NopHandler) OnLinkEncryptionResult(ConnHandle, LinkEncryption)             {}
func (NopHandler) OnWhitelistFromBondTable([]WhitelistEntry)                     {}
