package server

import "rendezvous/defs"

// DefaultQueueCapacity bounds a server endpoint's pending-message queue,
// echoing the teacher's fixed resource ceilings (biscuit/src/limits's
// Syslimit_t) rather than letting a misbehaving client grow it without
// bound.
const DefaultQueueCapacity = 64

// Endpoint is the Server Endpoint of spec.md §4.2: owned by exactly one
// process (Host), holding the FIFO message queue, the parked-receiver
// list, and the outstanding-sender table. Its invariant (spec.md §4.5):
// at any instant either the queue or the parked-receiver list is empty.
type Endpoint struct {
	SID  defs.SID
	Host defs.PID

	queue   *envQueue
	parked  []defs.TID
	senders *senderTable
	cap     int
}

// NewEndpoint creates an endpoint hosted by host with the default
// queue capacity.
func NewEndpoint(sid defs.SID, host defs.PID) *Endpoint {
	return &Endpoint{
		SID:     sid,
		Host:    host,
		queue:   newEnvQueue(DefaultQueueCapacity),
		senders: newSenderTable(DefaultQueueCapacity),
		cap:     DefaultQueueCapacity,
	}
}

// TakeAvailableThread pops a parked receiver, FIFO.
func (e *Endpoint) TakeAvailableThread() (defs.TID, bool) {
	if len(e.parked) == 0 {
		return 0, false
	}
	tid := e.parked[0]
	e.parked = e.parked[1:]
	return tid, true
}

// ReturnAvailableThread re-parks tid at the front of the list, used to
// roll back a TakeAvailableThread when a later step in Send fails.
func (e *Endpoint) ReturnAvailableThread(tid defs.TID) {
	e.parked = append([]defs.TID{tid}, e.parked...)
}

// ParkThread enqueues tid as a parked receiver. The queue/parked-list
// mutual-exclusion invariant (P1) holds because ParkThread is only
// ever called after TakeNextMessage reports the queue empty.
func (e *Endpoint) ParkThread(tid defs.TID) {
	e.parked = append(e.parked, tid)
}

// ParkedCount reports the number of parked receivers (used by tests to
// check invariant P1).
func (e *Endpoint) ParkedCount() int { return len(e.parked) }

// QueueLen reports the number of pending envelopes (used by tests).
func (e *Endpoint) QueueLen() int { return e.queue.len }

// RememberServerMessage allocates a dense, non-zero slot in the
// outstanding-sender table for a sender that requires a reply. Callers
// only invoke this for msg.NeedsReply() senders (BlockingScalar,
// Borrow, MutableBorrow); Move never reaches here.
func (e *Endpoint) RememberServerMessage(clientPID defs.PID, clientTID defs.TID, msg defs.Message, clientAddr uintptr) (uint32, defs.Err_t) {
	rec := senderSlot{
		clientPID: clientPID,
		clientTID: clientTID,
	}
	switch msg.Tag {
	case defs.MsgBlockingScalar:
		rec.kind = defs.WaitScalar
	case defs.MsgBorrow, defs.MsgMutableBorrow:
		rec.kind = defs.WaitBorrowedMemory
		rec.clientAddr = clientAddr
		rec.serverAddr = msg.Memory.Addr
		rec.length = msg.Memory.Len
	default:
		rec.kind = defs.WaitNone
	}
	return e.senders.remember(rec, e.cap)
}

// ForgetServerMessage releases a slot allocated by RememberServerMessage
// without ever pairing it with a reply, used to roll back a remembered
// sender when a later step of a queued send fails.
func (e *Endpoint) ForgetServerMessage(idx uint32) {
	e.senders.take(idx)
}

// QueueServerMessage pushes env onto the FIFO queue, failing
// ServerQueueFull if it is already at capacity (spec.md §4.2/§8
// scenario 5).
func (e *Endpoint) QueueServerMessage(env defs.Envelope) defs.Err_t {
	if e.queue.full() {
		return defs.ErrServerQueueFull
	}
	e.queue.push(env)
	return defs.ErrNone
}

// TakeNextMessage dequeues the head envelope, used by a receiver that
// arrives to find the queue non-empty.
func (e *Endpoint) TakeNextMessage() (defs.Envelope, bool) {
	return e.queue.pop()
}

// TakeWaitingMessage removes and returns the outstanding-sender record
// for idx, validating that a returned memory buffer (when non-nil)
// matches the recorded server-side region. Mismatch is reported via
// defs.ErrInternal, matching spec.md §4.2.
func (e *Endpoint) TakeWaitingMessage(idx uint32, returnedBuf *defs.MemoryRange) (defs.WaitingMessage, defs.Err_t) {
	rec, ok := e.senders.take(idx)
	if !ok {
		return defs.WaitingMessage{}, defs.ErrInternal
	}
	if rec.kind == defs.WaitBorrowedMemory && returnedBuf != nil {
		if returnedBuf.Addr != rec.serverAddr || returnedBuf.Len != rec.length {
			return defs.WaitingMessage{}, defs.ErrInternal
		}
	}
	wm := defs.WaitingMessage{
		Kind:       rec.kind,
		ClientPID:  rec.clientPID,
		ClientTID:  rec.clientTID,
		ServerAddr: rec.serverAddr,
		ClientAddr: rec.clientAddr,
		Len:        rec.length,
	}
	return wm, defs.ErrNone
}

// ReleaseAll drains every outstanding sender (used when the host
// process terminates), invoking fn(clientPID, clientTID) for each so
// the caller can wake them with ServerNotFound.
func (e *Endpoint) ReleaseAll(fn func(clientPID defs.PID, clientTID defs.TID)) {
	e.senders.releaseAll(func(_ uint32, rec senderSlot) {
		fn(rec.clientPID, rec.clientTID)
	})
}
