package defs

// ResultTag discriminates the Result union returned from every syscall.
type ResultTag int

const (
	ResOk ResultTag = iota
	ResMessage
	ResScalar1
	ResScalar2
	ResMemoryRange
	ResResumeProcess
	ResBlockedProcess
	ResProcessID
	ResThreadID
	ResConnectionID
	ResNewServerID
	ResError
)

// MemoryRange is the successful payload of MapMemory/IncreaseHeap: a
// page-aligned virtual range in the caller's address space. MapMemory's
// range is mapped; IncreaseHeap only records the heap growth and maps
// no pages for it.
type MemoryRange struct {
	Addr uintptr
	Len  uintptr
}

// Result is the tagged value every syscall handler produces. Exactly
// the field matching Tag is meaningful.
type Result struct {
	Tag ResultTag

	Envelope Envelope // ResMessage
	Scalar1  uintptr  // ResScalar1
	Scalar2a uintptr  // ResScalar2
	Scalar2b uintptr  // ResScalar2
	Range    MemoryRange
	PID      PID
	TID      TID
	CID      CID
	SID      SID
	Err      Err_t // ResError
}

// Ok is the bare success result carrying no payload.
func Ok() Result { return Result{Tag: ResOk} }

// ErrResult wraps an Err_t as a Result, the form dispatch.Handle
// returns to callers on failure.
func ErrResult(e Err_t) Result { return Result{Tag: ResError, Err: e} }

func MessageResult(env Envelope) Result { return Result{Tag: ResMessage, Envelope: env} }

func Scalar1Result(a uintptr) Result { return Result{Tag: ResScalar1, Scalar1: a} }

func Scalar2Result(a, b uintptr) Result {
	return Result{Tag: ResScalar2, Scalar2a: a, Scalar2b: b}
}

func MemoryRangeResult(r MemoryRange) Result { return Result{Tag: ResMemoryRange, Range: r} }

func ResumeProcess() Result { return Result{Tag: ResResumeProcess} }

func BlockedProcess() Result { return Result{Tag: ResBlockedProcess} }

func ProcessIDResult(p PID) Result { return Result{Tag: ResProcessID, PID: p} }

func ThreadIDResult(t TID) Result { return Result{Tag: ResThreadID, TID: t} }

func ConnectionIDResult(c CID) Result { return Result{Tag: ResConnectionID, CID: c} }

func NewServerIDResult(sid SID, cid CID) Result {
	return Result{Tag: ResNewServerID, SID: sid, CID: cid}
}

// IsErr reports whether the result represents a failure.
func (r Result) IsErr() bool { return r.Tag == ResError }
