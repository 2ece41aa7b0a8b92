package types

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/permazen/objdb/internal/format"
)

// ObjId is a 64-bit object identifier. The high bytes hold the object
// type's storage ID in the variable-width unsigned encoding and the low
// bytes hold a per-type unique suffix. Because the storage ID encoding
// orders by length then value, the 8-byte big-endian blob of an ObjId
// sorts all objects of one type contiguously, ordered by suffix.
//
// The zero ObjId is not a valid identifier; a storage ID encoding never
// begins with 0x00.
type ObjId uint64

// MaxStorageID is the largest permitted storage ID. The cap keeps the
// first byte of every storage ID encoding at most 0xfe, reserving 0xff
// for the null discriminant in reference field values, and guarantees at
// least four suffix bytes per object type.
const MaxStorageID = 0xfa + 1 + (1<<24 - 1)

// ValidStorageID reports whether sid may name a schema item.
func ValidStorageID(sid uint32) bool {
	return sid > 0 && sid <= MaxStorageID
}

// NewObjId assembles an identifier from an object type storage ID and a
// suffix. Only the low bits of suffix that fit after the encoded storage
// ID are used.
func NewObjId(storageID uint32, suffix uint64) (ObjId, error) {
	if !ValidStorageID(storageID) {
		return 0, fmt.Errorf("invalid storage ID %d", storageID)
	}
	buf := format.AppendUvarint(make([]byte, 0, 8), uint64(storageID))
	n := len(buf)
	var blob [8]byte
	copy(blob[:], buf)
	binary.BigEndian.PutUint64(blob[:], binary.BigEndian.Uint64(blob[:])|suffixMask(n)&suffix)
	return ObjId(binary.BigEndian.Uint64(blob[:])), nil
}

// suffixMask returns the mask of suffix bits remaining after an n-byte
// storage ID encoding.
func suffixMask(n int) uint64 {
	return 1<<(8*(8-n)) - 1
}

// ParseObjId decodes an identifier from the first 8 bytes of b.
func ParseObjId(b []byte) (ObjId, error) {
	if len(b) < 8 {
		return 0, format.ErrTruncated
	}
	id := ObjId(binary.BigEndian.Uint64(b[:8]))
	if _, err := id.storageID(); err != nil {
		return 0, err
	}
	return id, nil
}

// StorageID returns the object type storage ID encoded in the high bytes.
// It panics if the ObjId is malformed; use ParseObjId to validate bytes of
// unknown provenance.
func (id ObjId) StorageID() uint32 {
	sid, err := id.storageID()
	if err != nil {
		panic(fmt.Sprintf("malformed ObjId %s: %v", id, err))
	}
	return sid
}

func (id ObjId) storageID() (uint32, error) {
	b := id.Bytes()
	v, _, err := format.Uvarint(b)
	if err != nil {
		return 0, err
	}
	if !ValidStorageID(uint32(v)) {
		return 0, fmt.Errorf("%w: storage ID %d out of range", format.ErrInvalidEncoding, v)
	}
	return uint32(v), nil
}

// Suffix returns the per-type unique bits of the identifier.
func (id ObjId) Suffix() uint64 {
	n := format.UvarintLen(uint64(id.StorageID()))
	return uint64(id) & suffixMask(n)
}

// Bytes returns the 8-byte big-endian form used in keys.
func (id ObjId) Bytes() []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(id))
	return b[:]
}

// Append appends the 8-byte big-endian form to dst.
func (id ObjId) Append(dst []byte) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(id))
	return append(dst, b[:]...)
}

// Compare orders identifiers as their key bytes do.
func (id ObjId) Compare(other ObjId) int {
	return bytes.Compare(id.Bytes(), other.Bytes())
}

// String formats the identifier as 16 hex digits.
func (id ObjId) String() string {
	return hex.EncodeToString(id.Bytes())
}

// ParseObjIdString parses the 16-hex-digit form produced by String.
func ParseObjIdString(s string) (ObjId, error) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != 8 {
		return 0, fmt.Errorf("invalid object ID %q", s)
	}
	return ParseObjId(b)
}
