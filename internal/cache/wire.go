package cache

import (
	"encoding/binary"
	"errors"
	"time"
)

// Wire layout: magic(2) | ver(1) | flags(1) | [expireAt unix-milli u64 be] | payload.
// The expireAt field is present only when flagLogical is set. The envelope
// makes the negative-cache marker explicit instead of overloading an empty
// payload, so a read distinguishes Present, KnownAbsent and NotCached.

const wireVersion byte = 1

const (
	flagAbsent  byte = 1 << 0
	flagLogical byte = 1 << 1
)

var (
	wireMagic = [2]byte{'H', 'D'}

	ErrCorruptEntry = errors.New("cache: corrupt entry")
)

type entry struct {
	Absent   bool
	ExpireAt time.Time // zero unless the entry carries a logical expiry
	Payload  []byte
}

func encodeEntry(e entry) []byte {
	size := 4 + len(e.Payload)
	logical := !e.ExpireAt.IsZero()
	if logical {
		size += 8
	}

	b := make([]byte, 0, size)
	b = append(b, wireMagic[0], wireMagic[1], wireVersion)

	var flags byte
	if e.Absent {
		flags |= flagAbsent
	}
	if logical {
		flags |= flagLogical
	}
	b = append(b, flags)

	if logical {
		var u8 [8]byte
		binary.BigEndian.PutUint64(u8[:], uint64(e.ExpireAt.UnixMilli()))
		b = append(b, u8[:]...)
	}
	return append(b, e.Payload...)
}

func decodeEntry(b []byte) (entry, error) {
	if len(b) < 4 || b[0] != wireMagic[0] || b[1] != wireMagic[1] || b[2] != wireVersion {
		return entry{}, ErrCorruptEntry
	}
	flags := b[3]
	off := 4

	var e entry
	e.Absent = flags&flagAbsent != 0
	if flags&flagLogical != 0 {
		if len(b) < off+8 {
			return entry{}, ErrCorruptEntry
		}
		e.ExpireAt = time.UnixMilli(int64(binary.BigEndian.Uint64(b[off : off+8])))
		off += 8
	}
	e.Payload = b[off:]
	return e, nil
}
