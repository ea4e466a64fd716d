// Package s7 implements a Siemens S7 polling connector over ISO-on-TCP.
package s7

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/sensormine/edge-connectors/internal/domain"
)

// memoryArea is the PLC address space a tag lives in.
type memoryArea int

const (
	areaDB memoryArea = iota
	areaMerker
	areaInput
	areaOutput
)

// address is a parsed S7 operand.
type address struct {
	area     memoryArea
	dbNumber int
	offset   int
	bit      uint8 // valid only for bit operands
	isBit    bool
	width    int // operand width in bytes (0 for bit operands)
}

var (
	dbPattern  = regexp.MustCompile(`^DB(\d+)\.DB([XBWD])(\d+)(?:\.([0-7]))?$`)
	memPattern = regexp.MustCompile(`^([MIQE])([BWD]?)(\d+)(?:\.([0-7]))?$`)
)

// parseAddress parses Siemens operand syntax: "DB5.DBD10", "DB1.DBX0.3",
// "MW100", "M0.1", "IW0", "QB2". German aliases (E for inputs) are accepted.
func parseAddress(s string) (address, error) {
	s = strings.ToUpper(strings.TrimSpace(s))

	if m := dbPattern.FindStringSubmatch(s); m != nil {
		db, _ := strconv.Atoi(m[1])
		offset, _ := strconv.Atoi(m[3])
		a := address{area: areaDB, dbNumber: db, offset: offset}
		switch m[2] {
		case "X":
			if m[4] == "" {
				return address{}, fmt.Errorf("%w: %q: bit operand needs a bit number", domain.ErrS7InvalidAddress, s)
			}
			bit, _ := strconv.Atoi(m[4])
			a.isBit = true
			a.bit = uint8(bit)
		case "B":
			a.width = 1
		case "W":
			a.width = 2
		case "D":
			a.width = 4
		}
		if !a.isBit && m[4] != "" {
			return address{}, fmt.Errorf("%w: %q: bit number on a non-bit operand", domain.ErrS7InvalidAddress, s)
		}
		return a, nil
	}

	if m := memPattern.FindStringSubmatch(s); m != nil {
		offset, _ := strconv.Atoi(m[3])
		a := address{offset: offset}
		switch m[1] {
		case "M":
			a.area = areaMerker
		case "I", "E":
			a.area = areaInput
		case "Q":
			a.area = areaOutput
		}
		switch m[2] {
		case "":
			if m[4] == "" {
				return address{}, fmt.Errorf("%w: %q: bit operand needs a bit number", domain.ErrS7InvalidAddress, s)
			}
			bit, _ := strconv.Atoi(m[4])
			a.isBit = true
			a.bit = uint8(bit)
		case "B":
			a.width = 1
		case "W":
			a.width = 2
		case "D":
			a.width = 4
		}
		if !a.isBit && m[4] != "" {
			return address{}, fmt.Errorf("%w: %q: bit number on a non-bit operand", domain.ErrS7InvalidAddress, s)
		}
		return a, nil
	}

	return address{}, fmt.Errorf("%w: %q", domain.ErrS7InvalidAddress, s)
}

// byteSize returns how many bytes must be read for the operand when
// interpreted as the given data type.
func (a address) byteSize(dt domain.DataType) (int, error) {
	if a.isBit {
		if dt != domain.DataTypeBool && dt != domain.DataTypeUnknown {
			return 0, fmt.Errorf("%w: bit operand must be bool", domain.ErrInvalidDataType)
		}
		return 1, nil
	}

	var need int
	switch dt {
	case domain.DataTypeBool:
		need = 1
	case domain.DataTypeInt16, domain.DataTypeUInt16:
		need = 2
	case domain.DataTypeInt32, domain.DataTypeUInt32, domain.DataTypeFloat32:
		need = 4
	case domain.DataTypeInt64, domain.DataTypeUInt64, domain.DataTypeFloat64:
		need = 8
	case domain.DataTypeUnknown:
		need = a.width
	default:
		return 0, fmt.Errorf("%w: %s", domain.ErrInvalidDataType, dt)
	}

	// 64-bit values span two D operands; otherwise the declared operand
	// width must cover the data type.
	if a.width != 0 && need > a.width && need != 8 {
		return 0, fmt.Errorf("%w: %s does not fit a %d-byte operand", domain.ErrInvalidDataType, dt, a.width)
	}
	if need == 0 {
		need = 2
	}
	return need, nil
}
