package gap

import (
	"github.com/pkg/errors"

	"github.com/blelabs/blehost"
)

// PeripheralPrivacyStrategy decides what to do when a peer connects with a
// resolvable private address the controller could not resolve.
type PeripheralPrivacyStrategy uint8

const (
	PeripheralPrivacyDoNotResolve PeripheralPrivacyStrategy = iota
	PeripheralPrivacyReject
	PeripheralPrivacyPair
	PeripheralPrivacyAuthenticate
)

// CentralPrivacyStrategy decides how unresolved resolvable private
// addresses in advertising reports are treated.
type CentralPrivacyStrategy uint8

const (
	CentralPrivacyDoNotResolve CentralPrivacyStrategy = iota
	CentralPrivacyResolveAndForward
	CentralPrivacyResolveAndFilter
)

// PeripheralPrivacyConfiguration is the privacy policy applied while
// advertising.
type PeripheralPrivacyConfiguration struct {
	UseNonResolvableRandomAddress bool
	ResolutionStrategy            PeripheralPrivacyStrategy
}

// CentralPrivacyConfiguration is the privacy policy applied while scanning
// and initiating.
type CentralPrivacyConfiguration struct {
	UseNonResolvableRandomAddress bool
	ResolutionStrategy            CentralPrivacyStrategy
}

type privacyState struct {
	enabled    bool
	peripheral PeripheralPrivacyConfiguration
	central    CentralPrivacyConfiguration

	rotationTimer *blehost.Timer
}

// EnablePrivacy turns controller address resolution on or off. Disabling
// restores the random static identity address to the controller.
func (e *Engine) EnablePrivacy(enable bool) error {
	if !e.ctrl.FeatureSupported(blehost.FeaturePrivacy) {
		return errors.Wrap(blehost.ErrNotImplemented, "privacy")
	}
	if enable == e.privacy.enabled {
		return nil
	}
	if err := e.ctrl.SetAddressResolution(enable); err != nil {
		return errors.Wrap(err, "set address resolution")
	}
	e.privacy.enabled = enable
	if !enable {
		e.disableRotation()
		if e.addrType == blehost.AddrTypeRandomStatic {
			if err := e.ctrl.SetRandomAddress(e.randomStaticAddr); err != nil {
				return errors.Wrap(err, "restore identity address")
			}
		}
	}
	return nil
}

// PrivacyEnabled reports whether privacy is active.
func (e *Engine) PrivacyEnabled() bool {
	return e.privacy.enabled
}

// SetPeripheralPrivacyConfiguration installs the advertising side privacy
// policy.
func (e *Engine) SetPeripheralPrivacyConfiguration(cfg PeripheralPrivacyConfiguration) error {
	if cfg.ResolutionStrategy > PeripheralPrivacyAuthenticate {
		return errors.Wrap(blehost.ErrInvalidParameter, "unknown resolution strategy")
	}
	e.privacy.peripheral = cfg
	return nil
}

// PeripheralPrivacyConfigurationValue returns the current policy.
func (e *Engine) PeripheralPrivacyConfigurationValue() PeripheralPrivacyConfiguration {
	return e.privacy.peripheral
}

// SetCentralPrivacyConfiguration installs the scanning side privacy
// policy.
func (e *Engine) SetCentralPrivacyConfiguration(cfg CentralPrivacyConfiguration) error {
	if cfg.ResolutionStrategy > CentralPrivacyResolveAndFilter {
		return errors.Wrap(blehost.ErrInvalidParameter, "unknown resolution strategy")
	}
	e.privacy.central = cfg
	return nil
}

// CentralPrivacyConfigurationValue returns the current policy.
func (e *Engine) CentralPrivacyConfigurationValue() CentralPrivacyConfiguration {
	return e.privacy.central
}

// GenerateNonResolvableAddress draws a fresh non-resolvable private
// address, retrying the rare degenerate draw.
func GenerateNonResolvableAddress() (blehost.Addr, error) {
	var a blehost.Addr
	for {
		if err := blehost.RandomBytes(a[:]); err != nil {
			return a, err
		}
		a[5] &= 0x3F
		if blehost.IsRandomPrivateNonResolvableAddr(a) {
			return a, nil
		}
	}
}

// GenerateRandomStaticAddress draws a fresh random static address,
// retrying the rare degenerate draw.
func GenerateRandomStaticAddress() (blehost.Addr, error) {
	var a blehost.Addr
	for {
		if err := blehost.RandomBytes(a[:]); err != nil {
			return a, err
		}
		a[5] |= 0xC0
		if blehost.IsRandomStaticAddr(a) {
			return a, nil
		}
	}
}

// enableRotation arms the periodic address rotation timer. Idempotent,
// the first non-resolvable address user arms it.
func (e *Engine) enableRotation() {
	if e.privacy.rotationTimer != nil {
		return
	}
	e.privacy.rotationTimer = e.queue.Every(addressRotationInterval, e.rotateAddresses)
}

// maybeDisableRotation stops rotation once no activity uses non-resolvable
// addresses anymore.
func (e *Engine) maybeDisableRotation() {
	if e.scan.privacy {
		return
	}
	for i := range e.sets {
		if e.sets[i].active && e.sets[i].hasRotated {
			return
		}
	}
	e.disableRotation()
}

func (e *Engine) disableRotation() {
	if e.privacy.rotationTimer == nil {
		return
	}
	e.privacy.rotationTimer.Stop()
	e.privacy.rotationTimer = nil
	for i := range e.sets {
		e.sets[i].hasRotated = false
	}
	if e.addrType == blehost.AddrTypeRandomStatic {
		if err := e.ctrl.SetRandomAddress(e.randomStaticAddr); err != nil {
			e.log.Errorf("restore identity address: %v", err)
		}
	}
}

// rotateAddresses regenerates the non-resolvable private address of every
// rotating activity. Runs on the dispatch queue from the rotation timer.
func (e *Engine) rotateAddresses() {
	var scanAddr, advAddr blehost.Addr

	if e.scan.privacy {
		a, err := GenerateNonResolvableAddress()
		if err != nil {
			e.log.Errorf("address rotation: %v", err)
			return
		}
		if err := e.ctrl.SetRandomAddress(a); err != nil {
			e.log.Errorf("address rotation: %v", err)
			return
		}
		scanAddr = a
	}

	for i := range e.sets {
		s := &e.sets[i]
		if !s.active || !s.hasRotated {
			continue
		}
		a, err := GenerateNonResolvableAddress()
		if err != nil {
			e.log.Errorf("address rotation: set %d: %v", i, err)
			continue
		}
		if err := e.setSetAddress(s, a); err != nil {
			e.log.Errorf("address rotation: set %d: %v", i, err)
			continue
		}
		s.rotatedAddr = a
		advAddr = a
	}

	e.handler.OnPrivateAddressRotated(scanAddr, advAddr)
}
