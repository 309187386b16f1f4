// Package ipc implements the IPC transport of spec.md §4.3: the
// send_message/receive_message/return_* flows that move a Message
// from a client's connection to a server's endpoint and back,
// grounded line-for-line on original_source/kernel/src/syscall.rs's
// send_message, receive_message, return_memory, return_scalar and
// return_scalar2.
package ipc

import (
	"rendezvous/defs"
	"rendezvous/mem"
	"rendezvous/proc"
	"rendezvous/server"
	"rendezvous/tinfo"
)

// Transport wires the System Services, the server Registry and the
// Memory Manager together to drive the four syscall-level IPC flows.
// It holds no state of its own; every field is a reference to a
// collaborator owned elsewhere (dispatch.Dispatcher constructs one
// Transport and keeps it for the process's lifetime).
type Transport struct {
	Services *proc.Services
	Registry *server.Registry
	Mem      *mem.Manager
}

// Send implements spec.md §4.3 Send: translate memory, then either
// hand the envelope straight to a parked receiver or enqueue it,
// exactly the two-armed structure of the original's send_message.
func (t *Transport) Send(clientPID defs.PID, clientTID defs.TID, cid defs.CID, msg defs.Message) defs.Result {
	sidx, err := t.Services.ResolveCID(clientPID, cid)
	if err != defs.ErrNone {
		return defs.ErrResult(err)
	}
	ep := t.Registry.Endpoint(sidx)
	if ep == nil {
		return defs.ErrResult(defs.ErrServerNotFound)
	}
	serverPID := ep.Host

	var clientAddr uintptr
	if msg.HasMemory() {
		clientAddr = msg.Memory.Addr
	}

	blocking := msg.IsBlocking()
	translated, rerr := t.translate(clientPID, serverPID, msg)
	if rerr != defs.ErrNone {
		return defs.ErrResult(rerr)
	}
	msg = translated

	if serverTID, ok := ep.TakeAvailableThread(); ok {
		serverCID, cerr := t.Services.Connect(serverPID, ep.SID)
		if cerr != defs.ErrNone {
			ep.ReturnAvailableThread(serverTID)
			return defs.ErrResult(cerr)
		}

		var senderIdx uint32
		if msg.NeedsReply() {
			idx, rerr := ep.RememberServerMessage(clientPID, clientTID, msg, clientAddr)
			if rerr != defs.ErrNone {
				ep.ReturnAvailableThread(serverTID)
				return defs.ErrResult(rerr)
			}
			senderIdx = idx
		}

		envelope := defs.Envelope{
			Sender: defs.SenderToken{CID: serverCID, Idx: senderIdx},
			Body:   msg,
		}

		if rerr := t.Services.ReadyThread(serverPID, serverTID, defs.MessageResult(envelope)); rerr != defs.ErrNone {
			ep.ReturnAvailableThread(serverTID)
			return defs.ErrResult(rerr)
		}

		result, aerr := t.Services.Scheduler().Activate(clientPID, clientTID, serverPID, serverTID, blocking)
		if aerr != defs.ErrNone {
			return defs.ErrResult(aerr)
		}
		if blocking {
			// the client is the one suspended; what it observes is
			// whatever the scheduler says a blocking suspension
			// returns (BlockedProcess on hosted, ResumeProcess on
			// baremetal once the server itself later yields back).
			return result
		}
		return defs.Ok()
	}

	// unqueue hands translated memory back to the client when the
	// message cannot be queued, so a full queue or sender table leaves
	// no pages in the server's address space.
	unqueue := func() {
		switch msg.Tag {
		case defs.MsgMove:
			t.Mem.SendMemory(serverPID, msg.Memory.Addr, clientPID, clientAddr, msg.Memory.Len)
		case defs.MsgBorrow, defs.MsgMutableBorrow:
			t.Mem.ReturnMemory(serverPID, msg.Memory.Addr, clientPID, clientAddr, msg.Memory.Len)
		}
	}

	var queuedIdx uint32
	if msg.NeedsReply() {
		idx, rerr := ep.RememberServerMessage(clientPID, clientTID, msg, clientAddr)
		if rerr != defs.ErrNone {
			unqueue()
			return defs.ErrResult(rerr)
		}
		queuedIdx = idx
	}
	serverCID, cerr := t.Services.Connect(serverPID, ep.SID)
	if cerr != defs.ErrNone {
		if msg.NeedsReply() {
			ep.ForgetServerMessage(queuedIdx)
		}
		return defs.ErrResult(cerr)
	}
	envelope := defs.Envelope{
		Sender: defs.SenderToken{CID: serverCID, Idx: queuedIdx},
		Body:   msg,
	}
	if qerr := ep.QueueServerMessage(envelope); qerr != defs.ErrNone {
		if msg.NeedsReply() {
			ep.ForgetServerMessage(queuedIdx)
		}
		unqueue()
		return defs.ErrResult(qerr)
	}
	if !blocking {
		return defs.Ok()
	}
	if terr := t.Services.SetThreadState(clientPID, clientTID, tinfo.BlockedOnReturn); terr != defs.ErrNone {
		return defs.ErrResult(terr)
	}
	result, aerr := t.Services.Scheduler().SuspendCurrent(clientPID, clientTID)
	if aerr != defs.ErrNone {
		return defs.ErrResult(aerr)
	}
	return result
}

// translate moves or lends the memory portion of msg from clientPID
// to serverPID, per §4.1's send_memory/lend_memory, leaving
// non-memory messages untouched.
func (t *Transport) translate(clientPID, serverPID defs.PID, msg defs.Message) (defs.Message, defs.Err_t) {
	switch msg.Tag {
	case defs.MsgScalar, defs.MsgBlockingScalar:
		return msg, defs.ErrNone
	case defs.MsgMove:
		dst, err := t.Mem.SendMemory(clientPID, msg.Memory.Addr, serverPID, 0, msg.Memory.Len)
		if err != defs.ErrNone {
			return msg, err
		}
		msg.Memory.Addr = dst
		return msg, defs.ErrNone
	case defs.MsgBorrow, defs.MsgMutableBorrow:
		dst, err := t.Mem.LendMemory(clientPID, msg.Memory.Addr, serverPID, 0, msg.Memory.Len, msg.Tag == defs.MsgMutableBorrow)
		if err != defs.ErrNone {
			return msg, err
		}
		msg.Memory.Addr = dst
		return msg, defs.ErrNone
	default:
		return msg, defs.ErrInternal
	}
}

// Receive implements spec.md §4.3/§6 ReceiveMessage(sid): resolve a
// CID for the calling process, return a pending envelope immediately
// if one is queued, else park and suspend.
func (t *Transport) Receive(pid defs.PID, tid defs.TID, sid defs.SID) defs.Result {
	cid, cerr := t.Services.Connect(pid, sid)
	if cerr != defs.ErrNone {
		return defs.ErrResult(cerr)
	}
	sidx, ok := t.Registry.SidxFromSID(sid)
	if !ok {
		return defs.ErrResult(defs.ErrServerNotFound)
	}
	ep := t.Registry.Endpoint(sidx)
	if ep == nil || ep.Host != pid {
		return defs.ErrResult(defs.ErrServerNotFound)
	}
	_ = cid

	if env, ok := ep.TakeNextMessage(); ok {
		return defs.MessageResult(env)
	}

	ep.ParkThread(tid)
	if serr := t.Services.SetThreadState(pid, tid, tinfo.BlockedOnReceive); serr != defs.ErrNone {
		return defs.ErrResult(serr)
	}
	result, aerr := t.Services.Scheduler().SuspendCurrent(pid, tid)
	if aerr != defs.ErrNone {
		return defs.ErrResult(aerr)
	}
	return result
}

// ReturnMemory implements spec.md §4.3's ReturnMemory(sender, buf): the
// server's reply to a Borrow/MutableBorrow, reversing the lend and
// waking the blocked client with Ok.
func (t *Transport) ReturnMemory(serverPID defs.PID, sender defs.SenderToken, buf defs.MemoryRange) defs.Result {
	sidx, err := t.Services.ResolveCID(serverPID, sender.CID)
	if err != defs.ErrNone {
		return defs.ErrResult(err)
	}
	ep := t.Registry.Endpoint(sidx)
	if ep == nil || ep.Host != serverPID {
		return defs.ErrResult(defs.ErrServerNotFound)
	}
	wm, werr := ep.TakeWaitingMessage(sender.Idx, &buf)
	if werr != defs.ErrNone {
		return defs.ErrResult(werr)
	}
	switch wm.Kind {
	case defs.WaitBorrowedMemory:
		if rerr := t.Mem.ReturnMemory(serverPID, wm.ServerAddr, wm.ClientPID, wm.ClientAddr, wm.Len); rerr != defs.ErrNone {
			return defs.ErrResult(rerr)
		}
		if rerr := t.Services.ReadyThread(wm.ClientPID, wm.ClientTID, defs.Ok()); rerr != defs.ErrNone {
			return defs.ErrResult(rerr)
		}
		return defs.Ok()
	case defs.WaitForgetMemory:
		if !defs.Aligned(wm.ForgetAddr) {
			return defs.ErrResult(defs.ErrBadAlignment)
		}
		var first defs.Err_t = defs.ErrNone
		for off := uintptr(0); off < wm.ForgetLen; off += defs.PageSize {
			if uerr := t.Mem.UnmapPage(serverPID, wm.ForgetAddr+off); uerr != defs.ErrNone && first == defs.ErrNone {
				first = uerr
			}
		}
		if first != defs.ErrNone {
			return defs.ErrResult(first)
		}
		return defs.Ok()
	default:
		return defs.ErrResult(defs.ErrInternal)
	}
}

// returnScalar is the shared body of ReturnScalar1/ReturnScalar2: look
// up the waiting scalar sender, ready and switch to it, then stamp its
// saved result.
func (t *Transport) returnScalar(serverPID defs.PID, sender defs.SenderToken, result defs.Result) defs.Result {
	sidx, err := t.Services.ResolveCID(serverPID, sender.CID)
	if err != defs.ErrNone {
		return defs.ErrResult(err)
	}
	ep := t.Registry.Endpoint(sidx)
	if ep == nil || ep.Host != serverPID {
		return defs.ErrResult(defs.ErrServerNotFound)
	}
	wm, werr := ep.TakeWaitingMessage(sender.Idx, nil)
	if werr != defs.ErrNone {
		return defs.ErrResult(werr)
	}
	if wm.Kind != defs.WaitScalar {
		return defs.ErrResult(defs.ErrInternal)
	}
	if rerr := t.Services.ReadyThread(wm.ClientPID, wm.ClientTID, result); rerr != defs.ErrNone {
		return defs.ErrResult(rerr)
	}
	if _, aerr := t.Services.Scheduler().Activate(serverPID, 0, wm.ClientPID, wm.ClientTID, false); aerr != defs.ErrNone {
		return defs.ErrResult(aerr)
	}
	return defs.Ok()
}

// ReturnScalar1 implements spec.md §6 ReturnScalar1(sender, a).
func (t *Transport) ReturnScalar1(serverPID defs.PID, sender defs.SenderToken, a uintptr) defs.Result {
	return t.returnScalar(serverPID, sender, defs.Scalar1Result(a))
}

// ReturnScalar2 implements spec.md §6 ReturnScalar2(sender, a, b).
func (t *Transport) ReturnScalar2(serverPID defs.PID, sender defs.SenderToken, a, b uintptr) defs.Result {
	return t.returnScalar(serverPID, sender, defs.Scalar2Result(a, b))
}
