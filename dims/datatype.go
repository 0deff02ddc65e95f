/*
   This file handles the element type of pixel data and routines that size
   flat buffers for a given type.
*/

package dims

import "fmt"

// DataType is a unique ID for each element type carried by an Array.
type DataType uint8

const (
	T_uint8 DataType = iota
	T_int8
	T_uint16
	T_int16
	T_uint32
	T_int32
	T_uint64
	T_int64
	T_float32
	T_float64
)

var typeBytes = map[DataType]int{
	T_uint8:   1,
	T_int8:    1,
	T_uint16:  2,
	T_int16:   2,
	T_uint32:  4,
	T_int32:   4,
	T_uint64:  8,
	T_int64:   8,
	T_float32: 4,
	T_float64: 8,
}

var typeNames = map[DataType]string{
	T_uint8:   "uint8",
	T_int8:    "int8",
	T_uint16:  "uint16",
	T_int16:   "int16",
	T_uint32:  "uint32",
	T_int32:   "int32",
	T_uint64:  "uint64",
	T_int64:   "int64",
	T_float32: "float32",
	T_float64: "float64",
}

// BytesPerElement returns the # of bytes for a given element type.
// For example, T_uint16 is 2 bytes.
func (t DataType) BytesPerElement() int {
	return typeBytes[t]
}

func (t DataType) String() string {
	if name, found := typeNames[t]; found {
		return name
	}
	return fmt.Sprintf("unknown data type (%d)", uint8(t))
}

// DataTypeByName returns the DataType for a type string like "uint16".
func DataTypeByName(name string) (DataType, error) {
	for t, n := range typeNames {
		if n == name {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown data type name %q", name)
}
