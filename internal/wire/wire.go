package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
)

const (
	version    byte = 1
	kindEntry  byte = 1
	kindTagSet byte = 2
)

var (
	ErrCorrupt = errors.New("defcache: corrupt entry")

	// ErrOversize reports an entry field that does not fit the wire format:
	// a tag, cascade key or member string over 64 KiB, or more than 65535
	// strings in one list. These come from caller-supplied callbacks, so
	// encoding rejects them instead of panicking.
	ErrOversize = errors.New("defcache: field exceeds wire format limits")

	magic4 = [...]byte{'D', 'E', 'F', 'C'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Entry is the stored shape of one cache entry. Deadlines are unix
// nanoseconds; StaleUntil >= FreshUntil always. Tags and Cascade are the
// labels and one-hop eviction targets computed at write time, persisted so
// invalidation paths can apply them without re-deriving call arguments.
type Entry struct {
	StoredAt   int64
	FreshUntil int64
	StaleUntil int64
	Tags       []string
	Cascade    []string
	Payload    []byte
}

// Entry: magic(4) | ver(1) | kind(1=entry) | storedAt(i64 be) | freshUntil(i64 be) |
// staleUntil(i64 be) | ntags(u16) | (slen(u16) | s)* | ncascade(u16) | (slen(u16) | s)* |
// vlen(u32 be) | payload(vlen)
func EncodeEntry(e Entry) ([]byte, error) {
	total := 4 + 1 + 1 + 8 + 8 + 8 + 2 + 2 + 4 + len(e.Payload)
	for _, s := range e.Tags {
		total += 2 + len(s)
	}
	for _, s := range e.Cascade {
		total += 2 + len(s)
	}

	var buf bytes.Buffer
	buf.Grow(total)

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindEntry)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], uint64(e.StoredAt))
	buf.Write(u8[:])
	binary.BigEndian.PutUint64(u8[:], uint64(e.FreshUntil))
	buf.Write(u8[:])
	binary.BigEndian.PutUint64(u8[:], uint64(e.StaleUntil))
	buf.Write(u8[:])

	if err := writeStrings(&buf, e.Tags); err != nil {
		return nil, err
	}
	if err := writeStrings(&buf, e.Cascade); err != nil {
		return nil, err
	}

	binary.BigEndian.PutUint32(u4[:], uint32(len(e.Payload)))
	buf.Write(u4[:])
	buf.Write(e.Payload)

	return buf.Bytes(), nil
}

func DecodeEntry(b []byte) (Entry, error) {
	const hdr = 4 + 1 + 1 + 8 + 8 + 8
	if len(b) < hdr || !hasMagic(b) || b[4] != version || b[5] != kindEntry {
		return Entry{}, ErrCorrupt
	}

	var e Entry
	off := 6

	e.StoredAt = int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8
	e.FreshUntil = int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8
	e.StaleUntil = int64(binary.BigEndian.Uint64(b[off : off+8]))
	off += 8

	var err error
	if e.Tags, off, err = readStrings(b, off); err != nil {
		return Entry{}, err
	}
	if e.Cascade, off, err = readStrings(b, off); err != nil {
		return Entry{}, err
	}

	if off+4 > len(b) {
		return Entry{}, ErrCorrupt
	}
	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen > len(b)-off { // overflow-safe bound check
		return Entry{}, ErrCorrupt
	}
	e.Payload = b[off : off+vlen]

	return e, nil
}

// TagSet: magic(4) | ver(1) | kind(2=tagset) | n(u32 be) | (klen(u16) | key)*
func EncodeTagSet(members []string) ([]byte, error) {
	total := 4 + 1 + 1 + 4
	for _, m := range members {
		total += 2 + len(m)
	}

	var buf bytes.Buffer
	buf.Grow(total)

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindTagSet)

	var u4 [4]byte
	binary.BigEndian.PutUint32(u4[:], uint32(len(members)))
	buf.Write(u4[:])

	var u2 [2]byte
	for _, m := range members {
		if l := len(m); l == 0 || l > 0xFFFF {
			return nil, ErrOversize
		}
		binary.BigEndian.PutUint16(u2[:], uint16(len(m)))
		buf.Write(u2[:])
		buf.WriteString(m)
	}

	return buf.Bytes(), nil
}

func DecodeTagSet(b []byte) ([]string, error) {
	const hdr = 4 + 1 + 1 + 4
	if len(b) < hdr || !hasMagic(b) || b[4] != version || b[5] != kindTagSet {
		return nil, ErrCorrupt
	}

	off := 6
	n := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if n < 0 {
		return nil, ErrCorrupt
	}

	members := make([]string, 0, n)
	for i := 0; i < n; i++ {
		if off+2 > len(b) {
			return nil, ErrCorrupt
		}
		klen := int(binary.BigEndian.Uint16(b[off : off+2]))
		off += 2
		if klen <= 0 || klen > len(b)-off {
			return nil, ErrCorrupt
		}
		members = append(members, string(b[off:off+klen]))
		off += klen
	}

	return members, nil
}

func writeStrings(buf *bytes.Buffer, ss []string) error {
	if len(ss) > 0xFFFF {
		return ErrOversize
	}
	var u2 [2]byte
	binary.BigEndian.PutUint16(u2[:], uint16(len(ss)))
	buf.Write(u2[:])
	for _, s := range ss {
		if len(s) > 0xFFFF {
			return ErrOversize
		}
		binary.BigEndian.PutUint16(u2[:], uint16(len(s)))
		buf.Write(u2[:])
		buf.WriteString(s)
	}
	return nil
}

func readStrings(b []byte, off int) ([]string, int, error) {
	if off+2 > len(b) {
		return nil, 0, ErrCorrupt
	}
	n := int(binary.BigEndian.Uint16(b[off : off+2]))
	off += 2

	var out []string
	if n > 0 {
		out = make([]string, 0, n)
	}
	for i := 0; i < n; i++ {
		if off+2 > len(b) {
			return nil, 0, ErrCorrupt
		}
		slen := int(binary.BigEndian.Uint16(b[off : off+2]))
		off += 2
		if slen > len(b)-off {
			return nil, 0, ErrCorrupt
		}
		out = append(out, string(b[off:off+slen]))
		off += slen
	}
	return out, off, nil
}
