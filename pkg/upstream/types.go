package upstream

import (
	"fmt"
	"time"
)

// DataType is the legacy application's closed write-type enumeration. The
// numeric values are part of its wire protocol and pass through unchanged.
type DataType int

const (
	DataTypeBinary       DataType = 1
	DataTypeMultistate   DataType = 2
	DataTypeNumeric      DataType = 3
	DataTypeAlphanumeric DataType = 4
)

// String returns the data type name.
func (d DataType) String() string {
	switch d {
	case DataTypeBinary:
		return "binary"
	case DataTypeMultistate:
		return "multistate"
	case DataTypeNumeric:
		return "numeric"
	case DataTypeAlphanumeric:
		return "alphanumeric"
	default:
		return "unknown"
	}
}

// Valid reports whether d is a member of the closed enumeration.
func (d DataType) Valid() bool {
	return d >= DataTypeBinary && d <= DataTypeAlphanumeric
}

// ParseDataType maps a type name to its enum value.
func ParseDataType(name string) (DataType, error) {
	switch name {
	case "binary":
		return DataTypeBinary, nil
	case "multistate":
		return DataTypeMultistate, nil
	case "numeric":
		return DataTypeNumeric, nil
	case "alphanumeric":
		return DataTypeAlphanumeric, nil
	default:
		return 0, fmt.Errorf("unknown data type %q", name)
	}
}

// PointValue is a value read from an upstream point.
type PointValue struct {
	Tag       string    `json:"tag"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}
