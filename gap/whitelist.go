package gap

import (
	"github.com/pkg/errors"

	"github.com/blelabs/blehost"
)

// Whitelist returns a copy of the committed whitelist.
func (e *Engine) Whitelist() []blehost.WhitelistEntry {
	return append([]blehost.WhitelistEntry(nil), e.whitelist...)
}

// WhitelistCapacity returns the controller filter list size.
func (e *Engine) WhitelistCapacity() int {
	return e.ctrl.WhitelistCapacity()
}

// validateWhitelistEntry checks type and bit-pattern consistency: a public
// entry must not carry an address that classifies as random, a random
// entry must classify as random static. Private addresses are never valid
// whitelist entries.
func validateWhitelistEntry(w blehost.WhitelistEntry) error {
	switch w.AddrType {
	case blehost.AddrTypePublic:
		if blehost.IsRandomAddr(w.Addr) {
			return errors.Wrapf(blehost.ErrInvalidParameter,
				"public entry %s classifies as a random address", w.Addr)
		}
		return nil
	case blehost.AddrTypeRandomStatic:
		if !blehost.IsRandomStaticAddr(w.Addr) {
			return errors.Wrapf(blehost.ErrInvalidParameter,
				"random entry %s is not a random static address", w.Addr)
		}
		return nil
	default:
		return errors.Wrapf(blehost.ErrInvalidParameter,
			"%s addresses cannot be whitelisted", w.AddrType)
	}
}

func containsEntry(list []blehost.WhitelistEntry, w blehost.WhitelistEntry) bool {
	for _, x := range list {
		if x == w {
			return true
		}
	}
	return false
}

// SetWhitelist replaces the whitelist transactionally. The target list is
// diffed against the committed one, removals are applied before additions,
// and any controller failure rolls back the partial changes so the
// committed list is untouched on error.
func (e *Engine) SetWhitelist(target []blehost.WhitelistEntry) error {
	if len(target) > e.ctrl.WhitelistCapacity() {
		return errors.Wrapf(blehost.ErrInvalidParameter,
			"%d entries exceed whitelist capacity %d", len(target), e.ctrl.WhitelistCapacity())
	}
	for _, w := range target {
		if err := validateWhitelistEntry(w); err != nil {
			return err
		}
	}

	var toRemove, toAdd []blehost.WhitelistEntry
	for _, w := range e.whitelist {
		if !containsEntry(target, w) {
			toRemove = append(toRemove, w)
		}
	}
	for _, w := range target {
		if !containsEntry(e.whitelist, w) {
			toAdd = append(toAdd, w)
		}
	}

	var removed, added []blehost.WhitelistEntry

	rollback := func() {
		for i := len(added) - 1; i >= 0; i-- {
			if err := e.ctrl.RemoveWhitelistEntry(added[i]); err != nil {
				e.log.Errorf("whitelist rollback: remove %s: %v", added[i].Addr, err)
			}
		}
		for i := len(removed) - 1; i >= 0; i-- {
			if err := e.ctrl.AddWhitelistEntry(removed[i]); err != nil {
				e.log.Errorf("whitelist rollback: re-add %s: %v", removed[i].Addr, err)
			}
		}
	}

	for _, w := range toRemove {
		if err := e.ctrl.RemoveWhitelistEntry(w); err != nil {
			rollback()
			return errors.Wrapf(err, "remove whitelist entry %s", w.Addr)
		}
		removed = append(removed, w)
	}
	for _, w := range toAdd {
		if err := e.ctrl.AddWhitelistEntry(w); err != nil {
			rollback()
			return errors.Wrapf(err, "add whitelist entry %s", w.Addr)
		}
		added = append(added, w)
	}

	e.whitelist = append([]blehost.WhitelistEntry(nil), target...)
	return nil
}
