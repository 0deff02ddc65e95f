package codec

import (
	"bytes"
	"math/rand"
	"strings"
	"testing"
)

func TestFormatByte(t *testing.T) {
	for _, compress := range []Compression{Uncompressed, Snappy, Gzip} {
		for _, checksum := range []Checksum{NoChecksum, CRC32} {
			f := EncodeFormat(compress, checksum)
			c, s := DecodeFormat(f)
			if c != compress || s != checksum {
				t.Errorf("Format byte did not round trip %s + %s: got %s + %s\n",
					compress, checksum, c, s)
			}
		}
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	// Compressible data exercises the real codec paths.
	data := []byte(strings.Repeat("bioimage chunk payload ", 100))

	for _, compress := range []Compression{Uncompressed, Snappy, Gzip} {
		framed, err := Serialize(data, compress, CRC32)
		if err != nil {
			t.Fatalf("Error serializing with %s: %v\n", compress, err)
		}
		back, err := Deserialize(framed)
		if err != nil {
			t.Fatalf("Error deserializing %s frame: %v\n", compress, err)
		}
		if !bytes.Equal(back, data) {
			t.Errorf("Payload did not round trip through %s\n", compress)
		}
	}
}

func TestChecksumCatchesCorruption(t *testing.T) {
	data := make([]byte, 4096)
	rand.New(rand.NewSource(7)).Read(data)

	framed, err := Serialize(data, Snappy, CRC32)
	if err != nil {
		t.Fatalf("Error serializing: %v\n", err)
	}
	// Flip a payload bit past the format and checksum header.
	framed[len(framed)/2] ^= 0x10
	if _, err := Deserialize(framed); err == nil {
		t.Errorf("Expected checksum failure on corrupted frame\n")
	}
}

func TestDeserializeEmpty(t *testing.T) {
	if _, err := Deserialize(nil); err == nil {
		t.Errorf("Expected error deserializing empty frame\n")
	}
}
