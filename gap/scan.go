package gap

import (
	"time"

	"github.com/pkg/errors"

	"github.com/blelabs/blehost"
)

// SetScanParameters validates and stores the scan configuration and pushes
// it to the controller. Scanning must not be active.
func (e *Engine) SetScanParameters(p blehost.ScanParams) error {
	if e.scan.active {
		return errors.Wrap(blehost.ErrInvalidState, "scan parameters while scanning")
	}
	if p.PHYs.Count() == 0 {
		return errors.Wrap(blehost.ErrInvalidParameter, "no scanning PHY enabled")
	}
	if p.PHYs.Has2M() {
		return errors.Wrap(blehost.ErrInvalidParameter, "2M is not a scanning PHY")
	}
	if p.PHYs.Has1M() {
		if err := validateScanWindow(p.P1M); err != nil {
			return err
		}
	}
	if p.PHYs.HasCoded() {
		if !e.ctrl.FeatureSupported(blehost.FeatureCodedPHY) {
			return errors.Wrap(blehost.ErrNotImplemented, "coded PHY")
		}
		if err := validateScanWindow(p.Coded); err != nil {
			return err
		}
	}
	if err := e.ctrl.SetScanParameters(p); err != nil {
		return errors.Wrap(err, "set scan parameters")
	}
	e.scan.params = p
	return nil
}

func validateScanWindow(p blehost.ScanPHYParams) error {
	if p.Interval < scanIntervalMin || p.Interval > scanIntervalMax {
		return errors.Wrap(blehost.ErrInvalidParameter, "scan interval out of range")
	}
	if p.Window < scanIntervalMin || p.Window > p.Interval {
		return errors.Wrap(blehost.ErrInvalidParameter, "scan window out of range")
	}
	return nil
}

// StartScan enables scanning. Duration is in 10 ms units, zero means
// unbounded. A non-zero period (1.28 s units) repeats duration windows
// until StopScan.
func (e *Engine) StartScan(filter blehost.DuplicatesFilter, duration, period uint16) error {
	if e.scan.active {
		return errors.Wrap(blehost.ErrInvalidState, "already scanning")
	}
	// an unbounded scan ignores the period, nothing ever expires
	if duration == 0 {
		period = 0
	}

	if e.privacy.enabled && e.privacy.central.UseNonResolvableRandomAddress {
		a, err := GenerateNonResolvableAddress()
		if err != nil {
			return err
		}
		if err := e.ctrl.SetRandomAddress(a); err != nil {
			return errors.Wrap(err, "set scan address")
		}
		e.scan.privacy = true
		e.enableRotation()
	}

	if err := e.ctrl.ScanEnable(true, filter, duration, period); err != nil {
		e.scan.privacy = false
		e.maybeDisableRotation()
		return errors.Wrap(err, "scan enable")
	}
	e.scan.active = true
	e.scan.filter = filter
	e.scan.period = period

	// bounded single window scans get a host side timeout, periodic
	// windows run until stopped
	if duration > 0 && period == 0 {
		d := time.Duration(duration) * 10 * time.Millisecond
		e.scan.timer = e.queue.AfterFunc(d, e.scanTimedOut)
	}
	return nil
}

// StopScan disables scanning. Stopping an inactive scan is a no-op.
func (e *Engine) StopScan() error {
	if !e.scan.active {
		return nil
	}
	return e.stopScan()
}

func (e *Engine) stopScan() error {
	if err := e.ctrl.ScanEnable(false, e.scan.filter, 0, 0); err != nil {
		return errors.Wrap(err, "scan disable")
	}
	e.clearScanState()
	return nil
}

// IsScanActive reports whether scanning is running.
func (e *Engine) IsScanActive() bool {
	return e.scan.active
}

func (e *Engine) clearScanState() {
	e.scan.active = false
	e.scan.period = 0
	if e.scan.timer != nil {
		e.scan.timer.Stop()
		e.scan.timer = nil
	}
	if e.scan.privacy {
		e.scan.privacy = false
		e.maybeDisableRotation()
	}
}

func (e *Engine) scanTimedOut() {
	if !e.scan.active {
		return
	}
	e.clearScanState()
	e.handler.OnScanTimeout()
}
