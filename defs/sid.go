package defs

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/rs/xid"
)

// NewSID allocates a fresh 128-bit public Server ID. The first 12 bytes
// are an xid (globally unique, time-sortable, already used as a
// dependency by the sockstats example this pack retrieved) and the last
// 4 bytes are the big-endian CRC32 of the server's registration name, so
// a clock rollback that repeats an xid only yields a duplicate SID if
// the two names also share a CRC32.
func NewSID(name string) SID {
	var sid SID
	id := xid.New()
	copy(sid[:12], id.Bytes())
	binary.BigEndian.PutUint32(sid[12:], crc32.ChecksumIEEE([]byte(name)))
	return sid
}

// Zero reports whether the SID is the unset value.
func (s SID) Zero() bool {
	return s == SID{}
}
