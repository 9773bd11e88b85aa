// Package bond provides the reference SecurityDB implementation: a fixed
// capacity in-memory bond table with optional JSON file persistence.
package bond

import (
	"sync"

	"github.com/blelabs/blehost"
)

type entry struct {
	used bool
	open bool
	seq  uint64

	peerType blehost.AddrType
	peerAddr blehost.Addr

	flags blehost.DistributionFlags

	localKeys    blehost.EntryKeys
	haveLocalLTK bool

	peerKeys    blehost.EntryKeys
	havePeerLTK bool

	peerIRK     blehost.IRK
	havePeerIRK bool

	identityAddr   blehost.Addr
	identityPublic bool
	haveIdentity   bool

	peerSigning  blehost.EntrySigning
	havePeerCSRK bool
}

// Store is a SecurityDB backed by a fixed entry arena. Safe for use from
// the dispatch queue plus external readers.
type Store struct {
	mu sync.RWMutex

	filename string
	entries  []entry
	seq      uint64

	localIRK     blehost.IRK
	haveLocalIRK bool

	localCSRK     blehost.EntrySigning
	haveLocalCSRK bool
}

var _ blehost.SecurityDB = (*Store)(nil)

// NewStore builds an in-memory store holding up to capacity bonds.
func NewStore(capacity int) *Store {
	if capacity < 1 {
		capacity = 1
	}
	return &Store{entries: make([]entry, capacity)}
}

// NewFileStore builds a store persisted to a JSON file, loading any bonds
// already recorded there.
func NewFileStore(capacity int, filename string) (*Store, error) {
	s := NewStore(capacity)
	s.filename = filename
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) get(h blehost.EntryHandle) *entry {
	if int(h) >= len(s.entries) || !s.entries[h].used {
		return nil
	}
	return &s.entries[h]
}

// matches reports whether an entry belongs to the peer, by connection
// address or by recorded identity address.
func (e *entry) matches(peerType blehost.AddrType, peer blehost.Addr) bool {
	if e.peerType == peerType && e.peerAddr == peer {
		return true
	}
	if e.haveIdentity && e.identityAddr == peer {
		public := peerType == blehost.AddrTypePublic
		return e.identityPublic == public
	}
	return false
}

// OpenEntry finds the bond matching the peer or claims a slot for a new
// one, evicting the oldest closed bond when the arena is full.
func (s *Store) OpenEntry(peerType blehost.AddrType, peer blehost.Addr) blehost.EntryHandle {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.entries {
		if s.entries[i].used && s.entries[i].matches(peerType, peer) {
			s.entries[i].open = true
			return blehost.EntryHandle(i)
		}
	}

	victim := -1
	var victimSeq uint64
	for i := range s.entries {
		e := &s.entries[i]
		if !e.used {
			victim = i
			break
		}
		if !e.open && (victim == -1 || e.seq < victimSeq) {
			victim = i
			victimSeq = e.seq
		}
	}
	if victim == -1 {
		return blehost.InvalidEntryHandle
	}

	s.seq++
	s.entries[victim] = entry{
		used:     true,
		open:     true,
		seq:      s.seq,
		peerType: peerType,
		peerAddr: peer,
	}
	return blehost.EntryHandle(victim)
}

// FindEntry looks a bond up without claiming it.
func (s *Store) FindEntry(peerType blehost.AddrType, peer blehost.Addr) (blehost.EntryHandle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := range s.entries {
		if s.entries[i].used && s.entries[i].matches(peerType, peer) {
			return blehost.EntryHandle(i), true
		}
	}
	return blehost.InvalidEntryHandle, false
}

// CloseEntry releases a handle. Entries that never became a bond are
// discarded, bonded ones are kept and flushed.
func (s *Store) CloseEntry(h blehost.EntryHandle, bonded bool) {
	s.mu.Lock()
	e := s.get(h)
	if e == nil {
		s.mu.Unlock()
		return
	}
	e.open = false
	if !bonded {
		*e = entry{}
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.Sync(h)
}

// RemoveEntry erases the bond of a peer.
func (s *Store) RemoveEntry(peerType blehost.AddrType, peer blehost.Addr) {
	s.mu.Lock()
	for i := range s.entries {
		if s.entries[i].used && s.entries[i].matches(peerType, peer) {
			s.entries[i] = entry{}
		}
	}
	s.mu.Unlock()
	s.Sync(blehost.InvalidEntryHandle)
}

// Clear erases every bond and the local key material.
func (s *Store) Clear() {
	s.mu.Lock()
	for i := range s.entries {
		s.entries[i] = entry{}
	}
	s.haveLocalIRK = false
	s.haveLocalCSRK = false
	s.mu.Unlock()
	s.Sync(blehost.InvalidEntryHandle)
}

func (s *Store) Flags(h blehost.EntryHandle) (blehost.DistributionFlags, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e := s.get(h)
	if e == nil {
		return blehost.DistributionFlags{}, false
	}
	return e.flags, true
}

func (s *Store) SetFlags(h blehost.EntryHandle, f blehost.DistributionFlags) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.get(h); e != nil {
		e.flags = f
	}
}

func (s *Store) SetLocalLTK(h blehost.EntryHandle, ltk blehost.LTK) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.get(h); e != nil {
		e.localKeys.LTK = ltk
		e.haveLocalLTK = true
	}
}

func (s *Store) SetLocalEDIVRand(h blehost.EntryHandle, ed blehost.EDIVRand) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.get(h); e != nil {
		e.localKeys.ED = ed
	}
}

// LocalKeys returns the key material we distributed. For a legacy lookup
// the stored EDIV/Rand pair must match the one the peer presented.
func (s *Store) LocalKeys(h blehost.EntryHandle, ed blehost.EDIVRand) (blehost.EntryKeys, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e := s.get(h)
	if e == nil || !e.haveLocalLTK {
		return blehost.EntryKeys{}, false
	}
	if ed != (blehost.EDIVRand{}) && e.localKeys.ED != ed {
		return blehost.EntryKeys{}, false
	}
	return e.localKeys, true
}

func (s *Store) SetPeerLTK(h blehost.EntryHandle, ltk blehost.LTK) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.get(h); e != nil {
		e.peerKeys.LTK = ltk
		e.havePeerLTK = true
	}
}

func (s *Store) SetPeerEDIVRand(h blehost.EntryHandle, ed blehost.EDIVRand) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.get(h); e != nil {
		e.peerKeys.ED = ed
	}
}

func (s *Store) SetPeerIRK(h blehost.EntryHandle, irk blehost.IRK) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.get(h); e != nil {
		e.peerIRK = irk
		e.havePeerIRK = true
	}
}

func (s *Store) SetPeerBdaddr(h blehost.EntryHandle, addr blehost.Addr, public bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.get(h); e != nil {
		e.identityAddr = addr
		e.identityPublic = public
		e.haveIdentity = true
	}
}

func (s *Store) SetPeerCSRK(h blehost.EntryHandle, sig blehost.EntrySigning) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.get(h); e != nil {
		e.peerSigning = sig
		e.havePeerCSRK = true
	}
}

func (s *Store) PeerKeys(h blehost.EntryHandle) (blehost.EntryKeys, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e := s.get(h)
	if e == nil || !e.havePeerLTK {
		return blehost.EntryKeys{}, false
	}
	return e.peerKeys, true
}

func (s *Store) PeerIdentity(h blehost.EntryHandle) (blehost.EntryIdentity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e := s.get(h)
	if e == nil || !e.haveIdentity || !e.havePeerIRK {
		return blehost.EntryIdentity{}, false
	}
	return blehost.EntryIdentity{
		PeerAddr:         e.identityAddr,
		PeerAddrIsPublic: e.identityPublic,
		IRK:              e.peerIRK,
	}, true
}

func (s *Store) PeerSigning(h blehost.EntryHandle) (blehost.EntrySigning, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e := s.get(h)
	if e == nil || !e.havePeerCSRK {
		return blehost.EntrySigning{}, false
	}
	return e.peerSigning, true
}

func (s *Store) SetPeerSignCounter(h blehost.EntryHandle, counter uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e := s.get(h); e != nil {
		e.peerSigning.Counter = counter
	}
}

func (s *Store) LocalIRK() (blehost.IRK, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.localIRK, s.haveLocalIRK
}

func (s *Store) SetLocalIRK(irk blehost.IRK) {
	s.mu.Lock()
	s.localIRK = irk
	s.haveLocalIRK = true
	s.mu.Unlock()
}

func (s *Store) LocalCSRK() (blehost.EntrySigning, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.localCSRK, s.haveLocalCSRK
}

func (s *Store) SetLocalCSRK(sig blehost.EntrySigning) {
	s.mu.Lock()
	s.localCSRK = sig
	s.haveLocalCSRK = true
	s.mu.Unlock()
}

func (s *Store) SetLocalSignCounter(counter uint32) {
	s.mu.Lock()
	if s.haveLocalCSRK {
		s.localCSRK.Counter = counter
	}
	s.mu.Unlock()
}

// IdentityList enumerates up to max bonded identities holding an IRK.
func (s *Store) IdentityList(max int) []blehost.EntryIdentity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []blehost.EntryIdentity
	for i := range s.entries {
		if len(ids) >= max {
			break
		}
		e := &s.entries[i]
		if !e.used || !e.haveIdentity || !e.havePeerIRK {
			continue
		}
		ids = append(ids, blehost.EntryIdentity{
			PeerAddr:         e.identityAddr,
			PeerAddrIsPublic: e.identityPublic,
			IRK:              e.peerIRK,
		})
	}
	return ids
}

// BondedDevices enumerates the identity addresses of all bonds.
func (s *Store) BondedDevices() []blehost.WhitelistEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var list []blehost.WhitelistEntry
	for i := range s.entries {
		e := &s.entries[i]
		if !e.used || !e.haveIdentity {
			continue
		}
		t := blehost.AddrTypeRandomStatic
		if e.identityPublic {
			t = blehost.AddrTypePublic
		}
		list = append(list, blehost.WhitelistEntry{AddrType: t, Addr: e.identityAddr})
	}
	return list
}
