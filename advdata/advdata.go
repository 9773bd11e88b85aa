// Package advdata decodes the AD structures carried in advertising and
// scan response payloads into typed fields. It is an application facing
// helper for report payloads, the engines never interpret AD structures
// themselves.
package advdata

import (
	"github.com/pkg/errors"

	"github.com/blelabs/blehost"
)

// AD structure type codes, assigned numbers.
const (
	TypeFlags             byte = 0x01
	TypeUUID16Incomplete  byte = 0x02
	TypeUUID16Complete    byte = 0x03
	TypeUUID32Incomplete  byte = 0x04
	TypeUUID32Complete    byte = 0x05
	TypeUUID128Incomplete byte = 0x06
	TypeUUID128Complete   byte = 0x07
	TypeNameShortened     byte = 0x08
	TypeNameComplete      byte = 0x09
	TypeTxPower           byte = 0x0A
	TypeSolicited16       byte = 0x14
	TypeSolicited128      byte = 0x15
	TypeServiceData16     byte = 0x16
	TypeSolicited32       byte = 0x1F
	TypeServiceData32     byte = 0x20
	TypeServiceData128    byte = 0x21
	TypeManufacturerData  byte = 0xFF
)

// Structure is one raw length/type/value element of a payload.
type Structure struct {
	Type byte
	Data []byte
}

// ServiceData couples a service UUID with its advertised payload. The
// UUID stays in wire order, 2, 4 or 16 bytes.
type ServiceData struct {
	UUID []byte
	Data []byte
}

// Fields is the decoded view of a payload. Unknown structure types are
// skipped, repeated ones accumulate.
type Fields struct {
	Flags    byte
	HasFlags bool

	LocalName    string
	NameComplete bool

	TxPower    int8
	HasTxPower bool

	// Service and solicited UUIDs in wire order, 2, 4 or 16 bytes each.
	Services  [][]byte
	Solicited [][]byte

	ServiceData  []ServiceData
	Manufacturer []byte
}

// Structures splits a payload into its raw AD structures. A zero length
// byte terminates the payload early, as padding does on the air.
func Structures(data []byte) ([]Structure, error) {
	var out []Structure
	for i := 0; i < len(data); {
		length := int(data[i])
		if length == 0 {
			break
		}
		if i+1+length > len(data) {
			return out, errors.Wrapf(blehost.ErrInvalidParameter,
				"structure at %d overruns payload, length %d", i, length)
		}
		out = append(out, Structure{
			Type: data[i+1],
			Data: data[i+2 : i+1+length],
		})
		i += 1 + length
	}
	return out, nil
}

// uuidWidth maps a service UUID carrying type to its element size.
func uuidWidth(typ byte) int {
	switch typ {
	case TypeUUID16Incomplete, TypeUUID16Complete, TypeSolicited16, TypeServiceData16:
		return 2
	case TypeUUID32Incomplete, TypeUUID32Complete, TypeSolicited32, TypeServiceData32:
		return 4
	default:
		return 16
	}
}

func splitUUIDs(width int, data []byte) ([][]byte, error) {
	if len(data) == 0 || len(data)%width != 0 {
		return nil, errors.Wrapf(blehost.ErrInvalidParameter,
			"uuid list length %d is no multiple of %d", len(data), width)
	}
	list := make([][]byte, 0, len(data)/width)
	for i := 0; i < len(data); i += width {
		u := make([]byte, width)
		copy(u, data[i:i+width])
		list = append(list, u)
	}
	return list, nil
}

// ParseReport decodes the payload of an advertising report.
func ParseReport(r blehost.AdvReport) (Fields, error) {
	return Parse(r.Data)
}

// Parse decodes a payload into typed fields.
func Parse(data []byte) (Fields, error) {
	var f Fields

	structs, err := Structures(data)
	if err != nil {
		return f, err
	}

	for _, s := range structs {
		switch s.Type {
		case TypeFlags:
			if len(s.Data) < 1 {
				return f, errors.Wrap(blehost.ErrInvalidParameter, "empty flags structure")
			}
			f.Flags = s.Data[0]
			f.HasFlags = true

		case TypeNameComplete, TypeNameShortened:
			// a complete name wins over a shortened one
			if !f.NameComplete {
				f.LocalName = string(s.Data)
				f.NameComplete = s.Type == TypeNameComplete
			}

		case TypeTxPower:
			if len(s.Data) < 1 {
				return f, errors.Wrap(blehost.ErrInvalidParameter, "empty tx power structure")
			}
			f.TxPower = int8(s.Data[0])
			f.HasTxPower = true

		case TypeUUID16Incomplete, TypeUUID16Complete,
			TypeUUID32Incomplete, TypeUUID32Complete,
			TypeUUID128Incomplete, TypeUUID128Complete:
			list, err := splitUUIDs(uuidWidth(s.Type), s.Data)
			if err != nil {
				return f, err
			}
			f.Services = append(f.Services, list...)

		case TypeSolicited16, TypeSolicited32, TypeSolicited128:
			list, err := splitUUIDs(uuidWidth(s.Type), s.Data)
			if err != nil {
				return f, err
			}
			f.Solicited = append(f.Solicited, list...)

		case TypeServiceData16, TypeServiceData32, TypeServiceData128:
			w := uuidWidth(s.Type)
			if len(s.Data) < w {
				return f, errors.Wrap(blehost.ErrInvalidParameter, "service data shorter than its uuid")
			}
			sd := ServiceData{
				UUID: append([]byte(nil), s.Data[:w]...),
				Data: append([]byte(nil), s.Data[w:]...),
			}
			f.ServiceData = append(f.ServiceData, sd)

		case TypeManufacturerData:
			if len(f.Manufacturer) == 0 {
				f.Manufacturer = append([]byte(nil), s.Data...)
				continue
			}
			// the scan response repeats the company id, strip it
			extra := s.Data
			if len(extra) >= 2 {
				extra = extra[2:]
			}
			f.Manufacturer = append(f.Manufacturer, extra...)
		}
	}
	return f, nil
}
