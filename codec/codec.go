/*
	Package codec supports framing of chunk payloads with optional compression
	and checksum.  The format byte packs both choices so readers need no other
	context to decode a block.
*/
package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/gzip"
)

// Compression is the format of compression for storing chunk data.
// NOTE: Should be no more than 8 (3 bits) of compression types.
type Compression uint8

const (
	Uncompressed Compression = 0
	Snappy                   = 1 << iota
	Gzip
)

func (compress Compression) String() string {
	switch compress {
	case Uncompressed:
		return "No compression"
	case Snappy:
		return "Go Snappy compression"
	case Gzip:
		return "Gzip compression"
	default:
		return "Unknown compression"
	}
}

// Checksum is the type of checksum employed for error checking stored data.
// NOTE: Should be no more than 4 (2 bits) of checksum types.
type Checksum uint8

const (
	NoChecksum Checksum = 0
	CRC32               = 1 << iota
)

func (checksum Checksum) String() string {
	switch checksum {
	case NoChecksum:
		return "No checksum"
	case CRC32:
		return "CRC32 checksum"
	default:
		return "Unknown checksum"
	}
}

// Format is a single byte combining both compression and checksum methods.
type Format uint8

func EncodeFormat(compress Compression, checksum Checksum) Format {
	a := (uint8(compress) & 0x07) << 5
	b := (uint8(checksum) & 0x03) << 3
	return Format(a | b)
}

func DecodeFormat(f Format) (compress Compression, checksum Checksum) {
	compress = Compression(uint8(f) >> 5)
	checksum = Checksum((uint8(f) >> 3) & 0x03)
	return
}

// Serialize frames a slice of bytes using optional compression and checksum.
func Serialize(data []byte, compress Compression, checksum Checksum) ([]byte, error) {
	var buffer bytes.Buffer

	// Store the requested compression and checksum.
	format := EncodeFormat(compress, checksum)
	if err := binary.Write(&buffer, binary.LittleEndian, format); err != nil {
		return nil, err
	}

	// Handle compression if requested.
	var byteData []byte
	var err error
	switch compress {
	case Uncompressed:
		byteData = data
	case Snappy:
		byteData = snappy.Encode(nil, data)
	case Gzip:
		var b bytes.Buffer
		w := gzip.NewWriter(&b)
		if _, err = w.Write(data); err != nil {
			return nil, err
		}
		if err = w.Close(); err != nil {
			return nil, err
		}
		byteData = b.Bytes()
	default:
		return nil, fmt.Errorf("illegal compression (%s) during serialization", compress)
	}

	// Handle checksum if requested.
	switch checksum {
	case NoChecksum:
	case CRC32:
		crcChecksum := crc32.ChecksumIEEE(byteData)
		if err := binary.Write(&buffer, binary.LittleEndian, crcChecksum); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("illegal checksum (%s) in serialize.Serialize()", checksum)
	}
	if _, err := buffer.Write(byteData); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

// Deserialize returns the chunk payload from a framed buffer, verifying any
// stored checksum before decompression.
func Deserialize(s []byte) ([]byte, error) {
	if len(s) == 0 {
		return nil, fmt.Errorf("unable to deserialize 0 length slice")
	}
	buffer := bytes.NewBuffer(s)

	var format Format
	if err := binary.Read(buffer, binary.LittleEndian, &format); err != nil {
		return nil, err
	}
	compress, checksum := DecodeFormat(format)

	var storedCrc32 uint32
	switch checksum {
	case NoChecksum:
	case CRC32:
		if err := binary.Read(buffer, binary.LittleEndian, &storedCrc32); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("illegal checksum in deserializing data")
	}

	byteData := buffer.Bytes()
	if checksum == CRC32 {
		if crc32.ChecksumIEEE(byteData) != storedCrc32 {
			return nil, fmt.Errorf("bad checksum on deserializing %d bytes", len(s))
		}
	}

	switch compress {
	case Uncompressed:
		out := make([]byte, len(byteData))
		copy(out, byteData)
		return out, nil
	case Snappy:
		return snappy.Decode(nil, byteData)
	case Gzip:
		r, err := gzip.NewReader(bytes.NewBuffer(byteData))
		if err != nil {
			return nil, err
		}
		var b bytes.Buffer
		if _, err = b.ReadFrom(r); err != nil {
			return nil, err
		}
		if err = r.Close(); err != nil {
			return nil, err
		}
		return b.Bytes(), nil
	default:
		return nil, fmt.Errorf("illegal compression format (%d) in deserialization", compress)
	}
}
