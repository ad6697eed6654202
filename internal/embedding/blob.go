package embedding

import (
	"encoding/binary"
	"fmt"
	"math"
)

// EncodeBlob serializes a vector as little-endian float32 values.
// This is the canonical byte form used for SQLite BLOB columns and for
// response signature payloads, so both sides must agree on it exactly.
func EncodeBlob(v Vector) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(x))
	}
	return buf
}

// DecodeBlob deserializes a little-endian float32 blob into a vector.
func DecodeBlob(b []byte) (Vector, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(b))
	}
	v := make(Vector, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}
