// Package sector implements the Sector algebraic type and its resolver:
// a user-level description of a position on a disk (start, end, an
// absolute unit, a unit counted back from the end, a megabyte offset, or
// a percentage) that resolves to an absolute sector number only once a
// disk's sector count and sector size are known.
//
// from_str treats parsing as data, not exceptions: a malformed string
// returns (Sector{}, error), never a panic.
package sector

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind tags which alternative of the Sector sum type is populated.
type Kind int

const (
	KindStart Kind = iota
	KindEnd
	KindUnit
	KindUnitFromEnd
	KindMegabyte
	KindMegabyteFromEnd
	KindPercent
)

// DefaultAlignment is the sector alignment used for megabyte/percent
// offsets when a table doesn't impose a stricter one (2048 512-byte
// sectors = 1MiB, the conventional GPT/MSDOS alignment).
const DefaultAlignment = 2048

// Sector is the tagged union described in the data model: exactly one
// payload field is meaningful, selected by Kind. Percent is carried in
// Value too (0..=100) to keep the type a single u64 payload as specified.
type Sector struct {
	Kind  Kind
	Value uint64
}

func Start() Sector                      { return Sector{Kind: KindStart} }
func End() Sector                        { return Sector{Kind: KindEnd} }
func Unit(v uint64) Sector               { return Sector{Kind: KindUnit, Value: v} }
func UnitFromEnd(v uint64) Sector        { return Sector{Kind: KindUnitFromEnd, Value: v} }
func Megabyte(m uint64) Sector           { return Sector{Kind: KindMegabyte, Value: m} }
func MegabyteFromEnd(m uint64) Sector    { return Sector{Kind: KindMegabyteFromEnd, Value: m} }

// Percent constructs a Percent sector. p must be in 0..=100; callers that
// need validation should go through FromStr, which enforces the range.
func Percent(p uint16) Sector { return Sector{Kind: KindPercent, Value: uint64(p)} }

// String renders the canonical textual form, the inverse of FromStr.
func (s Sector) String() string {
	switch s.Kind {
	case KindStart:
		return "start"
	case KindEnd:
		return "end"
	case KindUnit:
		return strconv.FormatUint(s.Value, 10)
	case KindUnitFromEnd:
		return "-" + strconv.FormatUint(s.Value, 10)
	case KindMegabyte:
		return strconv.FormatUint(s.Value, 10) + "M"
	case KindMegabyteFromEnd:
		return "-" + strconv.FormatUint(s.Value, 10) + "M"
	case KindPercent:
		return strconv.FormatUint(s.Value, 10) + "%"
	default:
		return ""
	}
}

// FromStr parses the human forms accepted by the CLI grammar: "start",
// "end", a bare integer (sectors, Unit), "-N" (UnitFromEnd), "NM"
// (Megabyte), "-NM" (MegabyteFromEnd), "N%" (Percent, N in 0..=100).
func FromStr(s string) (Sector, error) {
	raw := s
	s = strings.TrimSpace(s)
	if s == "" {
		return Sector{}, fmt.Errorf("sector: empty value")
	}

	switch strings.ToLower(s) {
	case "start":
		return Start(), nil
	case "end":
		return End(), nil
	}

	if strings.HasSuffix(s, "%") {
		numStr := strings.TrimSuffix(s, "%")
		p, err := strconv.ParseUint(numStr, 10, 16)
		if err != nil {
			return Sector{}, fmt.Errorf("sector: invalid percent %q: %w", raw, err)
		}
		if p > 100 {
			return Sector{}, fmt.Errorf("sector: percent %d out of range 0..=100", p)
		}
		return Percent(uint16(p)), nil
	}

	negative := strings.HasPrefix(s, "-")
	body := strings.TrimPrefix(s, "-")

	if strings.HasSuffix(strings.ToUpper(body), "M") {
		numStr := body[:len(body)-1]
		m, err := strconv.ParseUint(numStr, 10, 64)
		if err != nil {
			return Sector{}, fmt.Errorf("sector: invalid megabyte value %q: %w", raw, err)
		}
		if negative {
			return MegabyteFromEnd(m), nil
		}
		return Megabyte(m), nil
	}

	v, err := strconv.ParseUint(body, 10, 64)
	if err != nil {
		return Sector{}, fmt.Errorf("sector: invalid value %q: %w", raw, err)
	}
	if negative {
		return UnitFromEnd(v), nil
	}
	return Unit(v), nil
}

// Disk is the minimal geometry a Resolve call needs: total sector count
// and the byte size of one sector. Defined here (not imported from
// pkg/model) to keep this package dependency-free, per the design note
// that Sector is "semantically pure" and resolves against "a specific
// Disk" without needing the full Disk type.
type Disk struct {
	Sectors    uint64
	SectorSize uint64
	Alignment  uint64 // 0 means DefaultAlignment
}

func (d Disk) alignment() uint64 {
	if d.Alignment == 0 {
		return DefaultAlignment
	}
	return d.Alignment
}

func alignDown(v, align uint64) uint64 {
	if align == 0 {
		return v
	}
	return (v / align) * align
}

// Resolve maps a Sector to an absolute sector number on disk d.
func (s Sector) Resolve(d Disk) (uint64, error) {
	if d.Sectors == 0 {
		return 0, fmt.Errorf("sector: disk has zero sectors")
	}
	sectorSize := d.SectorSize
	if sectorSize == 0 {
		sectorSize = 512
	}

	switch s.Kind {
	case KindStart:
		return 0, nil
	case KindEnd:
		return d.Sectors - 1, nil
	case KindUnit:
		return s.Value, nil
	case KindUnitFromEnd:
		if s.Value > d.Sectors {
			return 0, fmt.Errorf("sector: unit-from-end %d exceeds disk sectors %d", s.Value, d.Sectors)
		}
		return d.Sectors - s.Value, nil
	case KindMegabyte:
		sectors := (s.Value * 1_000_000) / sectorSize
		return alignDown(sectors, d.alignment()), nil
	case KindMegabyteFromEnd:
		sectors := (s.Value * 1_000_000) / sectorSize
		if sectors > d.Sectors {
			return 0, fmt.Errorf("sector: megabyte-from-end %dM exceeds disk size", s.Value)
		}
		return alignDown(d.Sectors-sectors, d.alignment()), nil
	case KindPercent:
		if s.Value > 100 {
			return 0, fmt.Errorf("sector: percent %d out of range 0..=100", s.Value)
		}
		if s.Value == 100 {
			return d.Sectors, nil
		}
		sectors := (s.Value * d.Sectors) / 100
		return alignDown(sectors, d.alignment()), nil
	default:
		return 0, fmt.Errorf("sector: unknown kind %d", s.Kind)
	}
}
