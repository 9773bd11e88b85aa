package blehost

import (
	"crypto/rand"

	"github.com/pkg/errors"
)

// EntryHandle references one security database entry. Handles stay valid
// from OpenEntry until CloseEntry or a database purge.
type EntryHandle uint8

const InvalidEntryHandle EntryHandle = 0xFF

// DistributionFlags records which keys a bond holds and how they were
// obtained. Persisted with the entry.
type DistributionFlags struct {
	PeerAddr         Addr
	PeerAddrIsPublic bool

	LTKStored         bool
	LTKMITMProtected  bool
	CSRKStored        bool
	CSRKMITMProtected bool
	IRKStored         bool

	SecureConnections bool
	Authenticated     bool
	EncryptionKeySize uint8
}

// EntryKeys is the encryption key material of one side of a bond. EDIVRand
// is zero for secure connections bonds.
type EntryKeys struct {
	LTK LTK
	ED  EDIVRand
}

// EntryIdentity is the peer identity resolving information of a bond.
type EntryIdentity struct {
	PeerAddr         Addr
	PeerAddrIsPublic bool
	IRK              IRK
}

// EntrySigning is the signing key material and counter of one direction.
type EntrySigning struct {
	CSRK    CSRK
	Counter uint32
}

// SecurityDB stores bonding state: distribution flags, encryption keys,
// identity and signing keys, per peer. Lookups are synchronous, callers run
// on the dispatch queue. Implementations decide persistence.
type SecurityDB interface {
	// Entry lifecycle. OpenEntry finds the entry matching the peer or
	// allocates a fresh one, evicting the oldest unconnected bond when
	// full. CloseEntry releases the handle, discarding the entry unless
	// it was flagged for bonding.
	OpenEntry(peerType AddrType, peer Addr) EntryHandle
	FindEntry(peerType AddrType, peer Addr) (EntryHandle, bool)
	CloseEntry(h EntryHandle, bonded bool)
	RemoveEntry(peerType AddrType, peer Addr)
	Clear()

	Flags(h EntryHandle) (DistributionFlags, bool)
	SetFlags(h EntryHandle, f DistributionFlags)

	// Local keys, distributed to the peer. The legacy LTK is looked up
	// by the EDIV/Rand pair the peer presents on encryption start.
	SetLocalLTK(h EntryHandle, ltk LTK)
	SetLocalEDIVRand(h EntryHandle, ed EDIVRand)
	LocalKeys(h EntryHandle, ed EDIVRand) (EntryKeys, bool)

	// Peer keys, received from the peer.
	SetPeerLTK(h EntryHandle, ltk LTK)
	SetPeerEDIVRand(h EntryHandle, ed EDIVRand)
	SetPeerIRK(h EntryHandle, irk IRK)
	SetPeerBdaddr(h EntryHandle, addr Addr, public bool)
	SetPeerCSRK(h EntryHandle, s EntrySigning)
	PeerKeys(h EntryHandle) (EntryKeys, bool)
	PeerIdentity(h EntryHandle) (EntryIdentity, bool)
	PeerSigning(h EntryHandle) (EntrySigning, bool)
	SetPeerSignCounter(h EntryHandle, counter uint32)

	// Local identity and signing keys, shared across bonds.
	LocalIRK() (IRK, bool)
	SetLocalIRK(irk IRK)
	LocalCSRK() (EntrySigning, bool)
	SetLocalCSRK(s EntrySigning)
	SetLocalSignCounter(counter uint32)

	// IdentityList returns up to max peer identities holding an IRK, for
	// controller resolving list population.
	IdentityList(max int) []EntryIdentity

	// BondedDevices returns the identity addresses of all bonds, for
	// whitelist generation. Entries without an identity address are
	// skipped.
	BondedDevices() []WhitelistEntry

	// Sync flushes pending writes to the backing store, h scopes the
	// flush to one entry when not invalid.
	Sync(h EntryHandle)
}

// RandomBytes fills b from the system entropy source. Key generation and
// address rotation depend on it, failure is surfaced rather than papered
// over.
func RandomBytes(b []byte) error {
	if _, err := rand.Read(b); err != nil {
		return errors.Wrap(err, "entropy source")
	}
	return nil
}
