package defs

import "rendezvous/internal/util"

// PID and TID are machine-word process and thread identifiers. PID 1 is
// the sole process exempted from the USER_AREA_END ceiling on MapMemory
// and IncreaseHeap (see Manager.MapRange and Services.IncreaseHeap).
type PID uint32

// TID identifies a thread within its owning process.
type TID uint32

// CID is a per-client handle to a server: an opaque index into the
// client process's connection table.
type CID uint32

// SID is the 128-bit public identifier created at server registration.
type SID [16]byte

// PageSize is fixed for the whole system; every memory range crossing
// the syscall boundary must be a positive multiple of it and aligned.
const PageSize = 4096

// UserAreaEnd bounds the region non-PID-1 processes may map or extend
// their heap into; MapMemory and IncreaseHeap both enforce it for every
// pid other than 1 (see SPEC_FULL.md §9 Open Question resolution).
const UserAreaEnd uintptr = 0xc0000000

// Aligned reports whether v falls on a page boundary (zero included,
// since an absent/hint address is represented as zero).
func Aligned(v uintptr) bool {
	return util.Rounddown(v, uintptr(PageSize)) == v
}

// SizeAligned reports whether v is a positive multiple of PageSize, the
// rule every memory range crossing the syscall boundary must satisfy.
func SizeAligned(v uintptr) bool {
	return v != 0 && util.Rounddown(v, uintptr(PageSize)) == v
}

// PageRoundup aligns v up to the next page boundary, for sizing a
// mapping from a byte count the syscall caller didn't align itself.
func PageRoundup(v uintptr) uintptr {
	return util.Roundup(v, uintptr(PageSize))
}
