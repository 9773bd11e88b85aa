package gap

import (
	"time"

	"github.com/pkg/errors"

	"github.com/blelabs/blehost"
)

const (
	advIntervalMin = 0x0020
	advIntervalMax = 0x4000

	legacyAdvDataMax = 31

	scanIntervalMin = 0x0004
	scanIntervalMax = 0x4000

	connIntervalMin = 0x0006
	connIntervalMax = 0x0C80
	connLatencyMax  = 0x01F3

	supervisionTimeoutMin = 0x000A
	supervisionTimeoutMax = 0x0C80

	// scan duration/period, 10 ms and 1.28 s units
	scanPeriodUnit = 1280 * time.Millisecond

	addressRotationInterval = 15 * time.Minute
)

// supervisionTimeoutValid checks the mandated relation between supervision
// timeout and connection interval. The timeout must strictly exceed
// 2 * (1 + latency) * maxInterval; the timeout is in 10 ms units, the
// interval in 1.25 ms units, so one timeout unit is eight interval units.
func supervisionTimeoutValid(timeout, latency, maxInterval uint16) bool {
	return uint32(timeout)*8 > 2*(1+uint32(latency))*uint32(maxInterval)
}

func validateConnPHYParams(p blehost.ConnPHYParams) error {
	if p.ScanInterval < scanIntervalMin || p.ScanInterval > scanIntervalMax {
		return errors.Wrap(blehost.ErrInvalidParameter, "scan interval out of range")
	}
	if p.ScanWindow < scanIntervalMin || p.ScanWindow > p.ScanInterval {
		return errors.Wrap(blehost.ErrInvalidParameter, "scan window out of range")
	}
	if err := validateConnUpdateParams(blehost.ConnUpdateParams{
		MinInterval:        p.MinInterval,
		MaxInterval:        p.MaxInterval,
		Latency:            p.Latency,
		SupervisionTimeout: p.SupervisionTimeout,
		MinEventLength:     p.MinEventLength,
		MaxEventLength:     p.MaxEventLength,
	}); err != nil {
		return err
	}
	return nil
}

func validateConnUpdateParams(p blehost.ConnUpdateParams) error {
	if p.MinInterval > p.MaxInterval {
		return errors.Wrap(blehost.ErrInvalidParameter, "connection interval min > max")
	}
	if p.MinInterval < connIntervalMin || p.MaxInterval > connIntervalMax {
		return errors.Wrap(blehost.ErrInvalidParameter, "connection interval out of range")
	}
	if p.Latency > connLatencyMax {
		return errors.Wrap(blehost.ErrInvalidParameter, "latency out of range")
	}
	if p.SupervisionTimeout < supervisionTimeoutMin || p.SupervisionTimeout > supervisionTimeoutMax {
		return errors.Wrap(blehost.ErrInvalidParameter, "supervision timeout out of range")
	}
	if p.MinEventLength > p.MaxEventLength {
		return errors.Wrap(blehost.ErrInvalidParameter, "event length min > max")
	}
	if !supervisionTimeoutValid(p.SupervisionTimeout, p.Latency, p.MaxInterval) {
		return errors.Wrap(blehost.ErrInvalidParameter,
			"supervision timeout does not exceed 2 * (1 + latency) * max interval")
	}
	return nil
}
