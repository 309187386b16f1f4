package defs

// MsgTag discriminates the Message union (spec.md §3 Message).
type MsgTag int

const (
	MsgScalar MsgTag = iota
	MsgBlockingScalar
	MsgMove
	MsgBorrow
	MsgMutableBorrow
)

func (t MsgTag) String() string {
	switch t {
	case MsgScalar:
		return "Scalar"
	case MsgBlockingScalar:
		return "BlockingScalar"
	case MsgMove:
		return "Move"
	case MsgBorrow:
		return "Borrow"
	case MsgMutableBorrow:
		return "MutableBorrow"
	default:
		return "UnknownMsg"
	}
}

// ScalarArgs holds the four machine words carried by Scalar and
// BlockingScalar messages.
type ScalarArgs struct {
	ID   uint32
	A, B, C, D uintptr
}

// MemoryMessage is the {id, buf:(addr,len), offset, valid} layout
// carried by Move, Borrow and MutableBorrow messages (spec.md §6).
// Offset and ID are opaque to the kernel; Valid is how many bytes of
// Buf are meaningful, updated by server code writing into the buffer.
type MemoryMessage struct {
	ID     uint32
	Addr   uintptr
	Len    uintptr
	Offset *uint32
	Valid  *uint32
}

// Message is the tagged value a sender passes to Send. Exactly one of
// Scalar or Memory is populated, selected by Tag.
type Message struct {
	Tag    MsgTag
	Scalar ScalarArgs
	Memory MemoryMessage
}

// IsBlocking reports whether the sender must wait for a reply:
// BlockingScalar, Borrow and MutableBorrow are blocking; Scalar and
// Move are fire-and-forget.
func (m Message) IsBlocking() bool {
	switch m.Tag {
	case MsgBlockingScalar, MsgBorrow, MsgMutableBorrow:
		return true
	default:
		return false
	}
}

// HasMemory reports whether the message carries a memory portion that
// must be translated between address spaces.
func (m Message) HasMemory() bool {
	switch m.Tag {
	case MsgMove, MsgBorrow, MsgMutableBorrow:
		return true
	default:
		return false
	}
}

// NeedsReply reports whether the message requires a slot in the
// server's outstanding-sender table. Mirrors original_source's
// send_message, which only remembers is_blocking() senders: Move is
// fire-and-forget, so it is delivered and forgotten without ever
// waiting on a reply (see DESIGN.md for the resulting divergence from
// spec.md's broader "any memory-transferring message" wording).
func (m Message) NeedsReply() bool {
	return m.IsBlocking()
}

// SenderToken encodes (cid, sender_idx) into a single opaque word
// delivered to the receiver as part of the envelope. A Scalar
// (non-blocking) message's token always carries sender_idx zero.
type SenderToken struct {
	CID CID
	Idx uint32
}

// Envelope is what a receiver sees from ReceiveMessage or a delivered
// TrySendMessage: the sender's token plus the message body.
type Envelope struct {
	Sender SenderToken
	Body   Message
}

// WaitKind discriminates the Waiting-Message Record stored in a
// server's outstanding-sender table.
type WaitKind int

const (
	WaitNone WaitKind = iota
	WaitScalar
	WaitBorrowedMemory
	WaitForgetMemory
)

// WaitingMessage is the record kept in a server endpoint's
// outstanding-sender table for a sender that expects a reply.
type WaitingMessage struct {
	Kind WaitKind

	// valid when Kind == WaitScalar or WaitBorrowedMemory
	ClientPID PID
	ClientTID TID

	// valid when Kind == WaitBorrowedMemory
	ServerAddr uintptr
	ClientAddr uintptr
	Len        uintptr

	// valid when Kind == WaitForgetMemory
	ForgetAddr uintptr
	ForgetLen  uintptr
}
