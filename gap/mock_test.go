package gap

import (
	"github.com/pkg/errors"

	"github.com/blelabs/blehost"
)

type fragment struct {
	handle       blehost.AdvHandle
	op           blehost.FragmentOp
	scanResponse bool
	data         []byte
}

type enableRec struct {
	handle    blehost.AdvHandle
	enable    bool
	duration  uint16
	maxEvents uint8
}

type scanEnableRec struct {
	enable   bool
	filter   blehost.DuplicatesFilter
	duration uint16
	period   uint16
}

type disconnectRec struct {
	handle blehost.ConnHandle
	reason blehost.DisconnectReason
}

// mockController records every primitive the engine issues and lets tests
// inject failures.
type mockController struct {
	feats map[blehost.Feature]bool

	maxSets       uint8
	maxData       int
	maxConnData   int
	maxActiveData int
	chunk         int
	wlCap         int
	rlCap         int
	palCap        int

	deviceAddr  blehost.Addr
	randomAddrs []blehost.Addr
	setAddrs    map[blehost.AdvHandle]blehost.Addr

	fragments   []fragment
	enables     []enableRec
	scanEnables []scanEnableRec

	wl        []blehost.WhitelistEntry
	failAdd   func(blehost.WhitelistEntry) bool
	failRem   func(blehost.WhitelistEntry) bool
	wlHistory []string

	connCreates int
	cancels     int
	disconnects []disconnectRec
	accepts     []blehost.ConnUpdateParams
	rejects     []blehost.ConnHandle
	updates     []blehost.ConnUpdateParams
}

var _ blehost.Controller = (*mockController)(nil)

func newMockController() *mockController {
	return &mockController{
		feats: map[blehost.Feature]bool{
			blehost.FeatureExtendedAdvertising: true,
			blehost.FeaturePeriodicAdvertising: true,
			blehost.FeaturePrivacy:             true,
			blehost.Feature2MPHY:               true,
			blehost.FeatureCodedPHY:            true,
		},
		maxSets:       4,
		maxData:       1650,
		maxConnData:   191,
		maxActiveData: 251,
		chunk:         251,
		wlCap:         8,
		rlCap:         8,
		palCap:        8,
		setAddrs:      make(map[blehost.AdvHandle]blehost.Addr),
	}
}

func (m *mockController) DeviceAddress() blehost.Addr { return m.deviceAddr }

func (m *mockController) SetRandomAddress(a blehost.Addr) error {
	m.randomAddrs = append(m.randomAddrs, a)
	return nil
}

func (m *mockController) SetAdvertisingSetRandomAddress(h blehost.AdvHandle, a blehost.Addr) error {
	m.setAddrs[h] = a
	return nil
}

func (m *mockController) FeatureSupported(f blehost.Feature) bool { return m.feats[f] }
func (m *mockController) MaxAdvertisingSets() uint8               { return m.maxSets }
func (m *mockController) MaxAdvertisingDataLength() int           { return m.maxData }
func (m *mockController) MaxConnectableAdvertisingDataLength() int {
	return m.maxConnData
}
func (m *mockController) MaxActiveSetAdvertisingDataLength() int { return m.maxActiveData }
func (m *mockController) MaxAdvertisingChunkLength() int         { return m.chunk }

func (m *mockController) SetAdvertisingParameters(blehost.AdvHandle, blehost.AdvParams) error {
	return nil
}

func (m *mockController) SetAdvertisingData(h blehost.AdvHandle, op blehost.FragmentOp, scanResponse bool, data []byte) error {
	m.fragments = append(m.fragments, fragment{h, op, scanResponse, append([]byte(nil), data...)})
	return nil
}

func (m *mockController) AdvertisingEnable(h blehost.AdvHandle, enable bool, duration uint16, maxEvents uint8) error {
	m.enables = append(m.enables, enableRec{h, enable, duration, maxEvents})
	return nil
}

func (m *mockController) RemoveAdvertisingSet(blehost.AdvHandle) error { return nil }
func (m *mockController) ClearAdvertisingSets() error { return nil }

func (m *mockController) SetPeriodicAdvertisingParameters(blehost.AdvHandle, uint16, uint16, bool) error {
	return nil
}

func (m *mockController) SetPeriodicAdvertisingData(h blehost.AdvHandle, op blehost.FragmentOp, data []byte) error {
	m.fragments = append(m.fragments, fragment{h, op, false, append([]byte(nil), data...)})
	return nil
}

func (m *mockController) PeriodicAdvertisingEnable(blehost.AdvHandle, bool) error { return nil }

func (m *mockController) SetScanParameters(blehost.ScanParams) error { return nil }

func (m *mockController) ScanEnable(enable bool, filter blehost.DuplicatesFilter, duration, period uint16) error {
	m.scanEnables = append(m.scanEnables, scanEnableRec{enable, filter, duration, period})
	return nil
}

func (m *mockController) CreateConnection(blehost.AddrType, blehost.Addr, blehost.ConnectionParams) error {
	m.connCreates++
	return nil
}

func (m *mockController) CancelConnection() error {
	m.cancels++
	return nil
}

func (m *mockController) Disconnect(h blehost.ConnHandle, reason blehost.DisconnectReason) error {
	m.disconnects = append(m.disconnects, disconnectRec{h, reason})
	return nil
}

func (m *mockController) UpdateConnectionParameters(_ blehost.ConnHandle, p blehost.ConnUpdateParams) error {
	m.updates = append(m.updates, p)
	return nil
}

func (m *mockController) AcceptConnectionParameters(_ blehost.ConnHandle, p blehost.ConnUpdateParams) error {
	m.accepts = append(m.accepts, p)
	return nil
}

func (m *mockController) RejectConnectionParameters(h blehost.ConnHandle, _ blehost.DisconnectReason) error {
	m.rejects = append(m.rejects, h)
	return nil
}

func (m *mockController) ReadPHY(blehost.ConnHandle) error { return nil }

func (m *mockController) SetPHY(blehost.ConnHandle, blehost.PHYSet, blehost.PHYSet) error {
	return nil
}

func (m *mockController) SetDefaultPHY(blehost.PHYSet, blehost.PHYSet) error { return nil }

func (m *mockController) WhitelistCapacity() int { return m.wlCap }

func (m *mockController) AddWhitelistEntry(w blehost.WhitelistEntry) error {
	if m.failAdd != nil && m.failAdd(w) {
		return errors.New("controller refused entry")
	}
	m.wl = append(m.wl, w)
	m.wlHistory = append(m.wlHistory, "add "+w.Addr.String())
	return nil
}

func (m *mockController) RemoveWhitelistEntry(w blehost.WhitelistEntry) error {
	if m.failRem != nil && m.failRem(w) {
		return errors.New("controller refused removal")
	}
	for i, x := range m.wl {
		if x == w {
			m.wl = append(m.wl[:i], m.wl[i+1:]...)
			break
		}
	}
	m.wlHistory = append(m.wlHistory, "remove "+w.Addr.String())
	return nil
}

func (m *mockController) ClearWhitelist() error {
	m.wl = nil
	return nil
}

func (m *mockController) ResolvingListCapacity() int { return m.rlCap }
func (m *mockController) AddResolvingListEntry(blehost.AddrType, blehost.Addr, blehost.IRK) error {
	return nil
}
func (m *mockController) RemoveResolvingListEntry(blehost.AddrType, blehost.Addr) error {
	return nil
}
func (m *mockController) ClearResolvingList() error { return nil }
func (m *mockController) SetAddressResolution(bool) error { return nil }

func (m *mockController) CreatePeriodicSync(bool, uint8, blehost.AddrType, blehost.Addr, uint16, uint16) error {
	return nil
}
func (m *mockController) CancelPeriodicSyncCreate() error { return nil }
func (m *mockController) TerminatePeriodicSync(blehost.SyncHandle) error { return nil }
func (m *mockController) AddPeriodicAdvertiserListEntry(blehost.AddrType, blehost.Addr, uint8) error {
	return nil
}
func (m *mockController) RemovePeriodicAdvertiserListEntry(blehost.AddrType, blehost.Addr, uint8) error {
	return nil
}
func (m *mockController) ClearPeriodicAdvertiserList() error { return nil }
func (m *mockController) PeriodicAdvertiserListCapacity() int {
	return m.palCap
}

// recordingHandler captures application events.
type recordingHandler struct {
	blehost.NopHandler

	reports     []blehost.AdvertisingReport
	connOK      []blehost.ConnectionCompleteEvent
	connErr     []error
	disconnects []blehost.DisconnectionCompleteEvent
	scanTimeout int
	advStarts   []blehost.AdvHandle
	updateReqs  []blehost.ConnParamsRequestEvent
}

func (h *recordingHandler) OnAdvertisingReport(r blehost.AdvertisingReport) {
	h.reports = append(h.reports, r)
}

func (h *recordingHandler) OnConnectionComplete(err error, ev blehost.ConnectionCompleteEvent) {
	if err != nil {
		h.connErr = append(h.connErr, err)
		return
	}
	h.connOK = append(h.connOK, ev)
}

func (h *recordingHandler) OnDisconnectionComplete(ev blehost.DisconnectionCompleteEvent) {
	h.disconnects = append(h.disconnects, ev)
}

func (h *recordingHandler) OnScanTimeout() { h.scanTimeout++ }

func (h *recordingHandler) OnAdvertisingStart(handle blehost.AdvHandle) {
	h.advStarts = append(h.advStarts, handle)
}

func (h *recordingHandler) OnUpdateConnectionParametersRequest(ev blehost.ConnParamsRequestEvent) {
	h.updateReqs = append(h.updateReqs, ev)
}

func newTestEngine(ctrl *mockController, opts ...Option) (*Engine, *recordingHandler) {
	h := &recordingHandler{}
	opts = append([]Option{WithHandler(h)}, opts...)
	e, err := New(ctrl, blehost.NewQueue(), opts...)
	if err != nil {
		panic(err)
	}
	return e, h
}
