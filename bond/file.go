package bond

import (
	"encoding/hex"
	"io/ioutil"
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"

	"github.com/blelabs/blehost"
)

// On-disk layout. Keys are hex encoded, addresses use the usual colon
// form.
type bondFile struct {
	LocalIRK         string       `json:"localIrk,omitempty"`
	LocalCSRK        string       `json:"localCsrk,omitempty"`
	LocalSignCounter uint32       `json:"localSignCounter,omitempty"`
	Bonds            []bondRecord `json:"bonds"`
}

type bondRecord struct {
	Address     string `json:"address"`
	AddressType uint8  `json:"addressType"`

	IdentityAddress string `json:"identityAddress,omitempty"`
	IdentityPublic  bool   `json:"identityPublic,omitempty"`

	LocalLTK  string `json:"localLongTermKey,omitempty"`
	LocalEDIV uint16 `json:"localEncryptionDiversifier,omitempty"`
	LocalRand uint64 `json:"localRandomValue,omitempty"`

	PeerLTK  string `json:"peerLongTermKey,omitempty"`
	PeerEDIV uint16 `json:"peerEncryptionDiversifier,omitempty"`
	PeerRand uint64 `json:"peerRandomValue,omitempty"`

	PeerIRK         string `json:"peerIdentityResolvingKey,omitempty"`
	PeerCSRK        string `json:"peerSigningKey,omitempty"`
	PeerSignCounter uint32 `json:"peerSignCounter,omitempty"`

	Authenticated     bool  `json:"authenticated"`
	SecureConnections bool  `json:"secureConnections"`
	MITMProtectedLTK  bool  `json:"mitmProtectedLtk"`
	EncryptionKeySize uint8 `json:"encryptionKeySize"`
}

// Sync writes the bond table to the backing file. The whole table is
// written regardless of the handle, an in-memory store is a no-op.
func (s *Store) Sync(blehost.EntryHandle) {
	if s.filename == "" {
		return
	}
	if err := s.save(); err != nil {
		blehost.GetLogger().Errorf("bond store sync: %v", err)
	}
}

func (s *Store) save() error {
	s.mu.RLock()
	f := bondFile{Bonds: make([]bondRecord, 0, len(s.entries))}
	if s.haveLocalIRK {
		f.LocalIRK = hex.EncodeToString(s.localIRK[:])
	}
	if s.haveLocalCSRK {
		f.LocalCSRK = hex.EncodeToString(s.localCSRK.CSRK[:])
		f.LocalSignCounter = s.localCSRK.Counter
	}
	for i := range s.entries {
		e := &s.entries[i]
		if !e.used || (!e.havePeerLTK && !e.haveLocalLTK && !e.havePeerIRK && !e.havePeerCSRK) {
			continue
		}
		r := bondRecord{
			Address:           e.peerAddr.String(),
			AddressType:       uint8(e.peerType),
			Authenticated:     e.flags.Authenticated,
			SecureConnections: e.flags.SecureConnections,
			MITMProtectedLTK:  e.flags.LTKMITMProtected,
			EncryptionKeySize: e.flags.EncryptionKeySize,
		}
		if e.haveIdentity {
			r.IdentityAddress = e.identityAddr.String()
			r.IdentityPublic = e.identityPublic
		}
		if e.haveLocalLTK {
			r.LocalLTK = hex.EncodeToString(e.localKeys.LTK[:])
			r.LocalEDIV = e.localKeys.ED.EDIV
			r.LocalRand = e.localKeys.ED.Rand
		}
		if e.havePeerLTK {
			r.PeerLTK = hex.EncodeToString(e.peerKeys.LTK[:])
			r.PeerEDIV = e.peerKeys.ED.EDIV
			r.PeerRand = e.peerKeys.ED.Rand
		}
		if e.havePeerIRK {
			r.PeerIRK = hex.EncodeToString(e.peerIRK[:])
		}
		if e.havePeerCSRK {
			r.PeerCSRK = hex.EncodeToString(e.peerSigning.CSRK[:])
			r.PeerSignCounter = e.peerSigning.Counter
		}
		f.Bonds = append(f.Bonds, r)
	}
	s.mu.RUnlock()

	out, err := jsoniter.Marshal(&f)
	if err != nil {
		return errors.Wrap(err, "marshal bonds")
	}
	return errors.Wrap(ioutil.WriteFile(s.filename, out, 0600), "write bond file")
}

func (s *Store) load() error {
	if _, err := os.Stat(s.filename); os.IsNotExist(err) {
		return nil
	}
	in, err := ioutil.ReadFile(s.filename)
	if err != nil {
		return errors.Wrap(err, "read bond file")
	}
	if len(in) == 0 {
		return nil
	}

	var f bondFile
	if err := jsoniter.Unmarshal(in, &f); err != nil {
		return errors.Wrap(err, "unmarshal bonds")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if f.LocalIRK != "" {
		if err := decodeKey(f.LocalIRK, s.localIRK[:]); err != nil {
			return err
		}
		s.haveLocalIRK = true
	}
	if f.LocalCSRK != "" {
		if err := decodeKey(f.LocalCSRK, s.localCSRK.CSRK[:]); err != nil {
			return err
		}
		s.localCSRK.Counter = f.LocalSignCounter
		s.haveLocalCSRK = true
	}

	for i, r := range f.Bonds {
		if i >= len(s.entries) {
			break
		}
		addr, err := blehost.ParseAddr(r.Address)
		if err != nil {
			return errors.Wrapf(err, "bond %d", i)
		}
		s.seq++
		e := entry{
			used:     true,
			seq:      s.seq,
			peerType: blehost.AddrType(r.AddressType),
			peerAddr: addr,
			flags: blehost.DistributionFlags{
				Authenticated:     r.Authenticated,
				SecureConnections: r.SecureConnections,
				LTKMITMProtected:  r.MITMProtectedLTK,
				EncryptionKeySize: r.EncryptionKeySize,
				LTKStored:         r.PeerLTK != "",
				IRKStored:         r.PeerIRK != "",
				CSRKStored:        r.PeerCSRK != "",
			},
		}
		if r.IdentityAddress != "" {
			id, err := blehost.ParseAddr(r.IdentityAddress)
			if err != nil {
				return errors.Wrapf(err, "bond %d identity", i)
			}
			e.identityAddr = id
			e.identityPublic = r.IdentityPublic
			e.haveIdentity = true
			e.flags.PeerAddr = id
			e.flags.PeerAddrIsPublic = r.IdentityPublic
		}
		if r.LocalLTK != "" {
			if err := decodeKey(r.LocalLTK, e.localKeys.LTK[:]); err != nil {
				return errors.Wrapf(err, "bond %d", i)
			}
			e.localKeys.ED = blehost.EDIVRand{EDIV: r.LocalEDIV, Rand: r.LocalRand}
			e.haveLocalLTK = true
		}
		if r.PeerLTK != "" {
			if err := decodeKey(r.PeerLTK, e.peerKeys.LTK[:]); err != nil {
				return errors.Wrapf(err, "bond %d", i)
			}
			e.peerKeys.ED = blehost.EDIVRand{EDIV: r.PeerEDIV, Rand: r.PeerRand}
			e.havePeerLTK = true
		}
		if r.PeerIRK != "" {
			if err := decodeKey(r.PeerIRK, e.peerIRK[:]); err != nil {
				return errors.Wrapf(err, "bond %d", i)
			}
			e.havePeerIRK = true
		}
		if r.PeerCSRK != "" {
			if err := decodeKey(r.PeerCSRK, e.peerSigning.CSRK[:]); err != nil {
				return errors.Wrapf(err, "bond %d", i)
			}
			e.peerSigning.Counter = r.PeerSignCounter
			e.havePeerCSRK = true
		}
		s.entries[i] = e
	}
	return nil
}

func decodeKey(in string, out []byte) error {
	b, err := hex.DecodeString(in)
	if err != nil || len(b) != len(out) {
		return errors.Wrap(blehost.ErrInvalidParameter, "malformed key in bond file")
	}
	copy(out, b)
	return nil
}
