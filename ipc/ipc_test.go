package ipc

import (
	"testing"

	"gotest.tools/v3/assert"

	"rendezvous/defs"
	"rendezvous/mem"
	"rendezvous/proc"
	"rendezvous/server"
)

func newTestTransport(t *testing.T) (*Transport, *proc.Services, defs.PID, defs.TID, defs.PID) {
	t.Helper()
	registry := server.NewRegistry()
	svc := proc.NewServices(registry)
	svc.SetScheduler(proc.NewHosted(svc))
	manager := mem.NewManager(mem.NewAllocator(256), mem.NewSimTable())

	transport := &Transport{Services: svc, Registry: registry, Mem: manager}

	serverPID, _, err := svc.CreateProcess(defs.ProcessInit{Name: "server"}, 16*defs.PageSize)
	assert.Equal(t, err, defs.ErrNone)
	// A second server thread stands in for the receiver that parks on
	// ReceiveMessage; the process's first (index 1) thread is left free
	// to model "the process is also otherwise alive".
	serverTID, terr := svc.CreateThread(serverPID, defs.ThreadInit{})
	assert.Equal(t, terr, defs.ErrNone)

	clientPID, _, err := svc.CreateProcess(defs.ProcessInit{Name: "client"}, 16*defs.PageSize)
	assert.Equal(t, err, defs.ErrNone)

	return transport, svc, serverPID, serverTID, clientPID
}

func connect(t *testing.T, transport *Transport, serverPID, clientPID defs.PID, name string) (defs.SID, defs.CID) {
	t.Helper()
	sid, _ := transport.Registry.Create(serverPID, name)
	cid, err := transport.Services.Connect(clientPID, sid)
	assert.Equal(t, err, defs.ErrNone)
	return sid, cid
}

func TestScalarRendezvous(t *testing.T) {
	// Scenario 1: server parks, client sends Scalar, server resumes with
	// the envelope, sender idx is 0 (non-blocking send needs no reply
	// slot).
	transport, svc, serverPID, serverTID, clientPID := newTestTransport(t)
	sid, cid := connect(t, transport, serverPID, clientPID, "scalar")

	sidx, _ := transport.Registry.SidxFromSID(sid)
	ep := transport.Registry.Endpoint(sidx)
	ep.ParkThread(serverTID)

	msg := defs.Message{Tag: defs.MsgScalar, Scalar: defs.ScalarArgs{ID: 7, A: 1, B: 2, C: 3, D: 4}}
	result := transport.Send(clientPID, 1, cid, msg)
	assert.Equal(t, result.Tag, defs.ResOk)

	recv, err := svc.ThreadResult(serverPID, serverTID)
	assert.Equal(t, err, defs.ErrNone)
	assert.Equal(t, recv.Tag, defs.ResMessage)
	assert.Equal(t, recv.Envelope.Sender.Idx, uint32(0))
	assert.Equal(t, recv.Envelope.Body.Scalar.ID, uint32(7))
}

func TestQueueingDeliversInOrder(t *testing.T) {
	// Scenario 4: two non-blocking sends with no parked receiver queue
	// in order; two receives drain them id=1 then id=2.
	transport, _, serverPID, serverTID, clientPID := newTestTransport(t)
	sid, cid := connect(t, transport, serverPID, clientPID, "queueing")

	for _, id := range []uint32{1, 2} {
		msg := defs.Message{Tag: defs.MsgScalar, Scalar: defs.ScalarArgs{ID: id}}
		result := transport.Send(clientPID, 1, cid, msg)
		assert.Equal(t, result.Tag, defs.ResOk)
	}

	sidx, _ := transport.Registry.SidxFromSID(sid)
	ep := transport.Registry.Endpoint(sidx)
	assert.Equal(t, ep.QueueLen(), 2)

	first := transport.Receive(serverPID, serverTID, sid)
	assert.Equal(t, first.Tag, defs.ResMessage)
	assert.Equal(t, first.Envelope.Body.Scalar.ID, uint32(1))

	second := transport.Receive(serverPID, serverTID, sid)
	assert.Equal(t, second.Tag, defs.ResMessage)
	assert.Equal(t, second.Envelope.Body.Scalar.ID, uint32(2))
}

func TestReturnScalar2RoundTrip(t *testing.T) {
	// Scenario 2: blocking scalar send, server replies ReturnScalar2;
	// client's saved result becomes Scalar2(10, 20) and the outstanding
	// table is left empty.
	transport, svc, serverPID, serverTID, clientPID := newTestTransport(t)
	sid, cid := connect(t, transport, serverPID, clientPID, "blocking")

	sidx, _ := transport.Registry.SidxFromSID(sid)
	ep := transport.Registry.Endpoint(sidx)
	ep.ParkThread(serverTID)

	msg := defs.Message{Tag: defs.MsgBlockingScalar, Scalar: defs.ScalarArgs{ID: 9, A: 1, B: 2, C: 3, D: 4}}
	result := transport.Send(clientPID, 1, cid, msg)
	assert.Equal(t, result.Tag, defs.ResBlockedProcess)

	// The server thread woke up with the envelope carrying the reply
	// token; that's what a real server would use to call ReturnScalar2.
	recv, rerr := svc.ThreadResult(serverPID, serverTID)
	assert.Equal(t, rerr, defs.ErrNone)
	assert.Equal(t, recv.Tag, defs.ResMessage)

	serverCID, cerr := svc.Connect(serverPID, sid)
	assert.Equal(t, cerr, defs.ErrNone)
	reply := transport.ReturnScalar2(serverPID, defs.SenderToken{CID: serverCID, Idx: recv.Envelope.Sender.Idx}, 10, 20)
	assert.Equal(t, reply.Tag, defs.ResOk)

	clientResult, err := svc.ThreadResult(clientPID, 1)
	assert.Equal(t, err, defs.ErrNone)
	assert.Equal(t, clientResult.Tag, defs.ResScalar2)
	assert.Equal(t, clientResult.Scalar2a, uintptr(10))
	assert.Equal(t, clientResult.Scalar2b, uintptr(20))
}

func TestBorrowAndReturn(t *testing.T) {
	// Scenario 3: client sends Borrow of 2 pages, server receives it
	// re-mapped in its own space, calls ReturnMemory; client ends up
	// re-mapped at the original address.
	transport, svc, serverPID, serverTID, clientPID := newTestTransport(t)
	sid, cid := connect(t, transport, serverPID, clientPID, "borrow")

	clientVirt := uintptr(0x20000000)
	_, merr := transport.Mem.MapRange(clientPID, nil, &clientVirt, 2*defs.PageSize, defs.FlagR|defs.FlagW)
	assert.Equal(t, merr, defs.ErrNone)

	sidx, _ := transport.Registry.SidxFromSID(sid)
	ep := transport.Registry.Endpoint(sidx)
	ep.ParkThread(serverTID)

	msg := defs.Message{
		Tag: defs.MsgBorrow,
		Memory: defs.MemoryMessage{
			ID: 1, Addr: clientVirt, Len: 2 * defs.PageSize,
		},
	}
	result := transport.Send(clientPID, 1, cid, msg)
	assert.Equal(t, result.Tag, defs.ResBlockedProcess)

	recv, rerr := svc.ThreadResult(serverPID, serverTID)
	assert.Equal(t, rerr, defs.ErrNone)
	assert.Equal(t, recv.Tag, defs.ResMessage)
	serverVirt := recv.Envelope.Body.Memory.Addr

	serverCID, cerr := svc.Connect(serverPID, sid)
	assert.Equal(t, cerr, defs.ErrNone)
	reply := transport.ReturnMemory(serverPID, defs.SenderToken{CID: serverCID, Idx: recv.Envelope.Sender.Idx},
		defs.MemoryRange{Addr: serverVirt, Len: 2 * defs.PageSize})
	assert.Equal(t, reply.Tag, defs.ResOk)

	clientResult, err := svc.ThreadResult(clientPID, 1)
	assert.Equal(t, err, defs.ErrNone)
	assert.Equal(t, clientResult.Tag, defs.ResOk)

	_, _, stillInServer := transport.Mem.Translate(serverPID, serverVirt)
	assert.Assert(t, !stillInServer)
	_, flags, ok := transport.Mem.Translate(clientPID, clientVirt)
	assert.Assert(t, ok)
	assert.Assert(t, flags&defs.FlagW != 0)
}

func TestQueuedBlockingSendReturnScalarRoundTrip(t *testing.T) {
	// A blocking send that finds no parked receiver queues instead: the
	// outstanding-sender slot must still be allocated up front so the
	// envelope the server eventually dequeues carries a valid
	// SenderToken, and ReturnScalar1 against it must wake the client
	// rather than leave it BlockedOnReturn forever.
	transport, svc, serverPID, serverTID, clientPID := newTestTransport(t)
	sid, cid := connect(t, transport, serverPID, clientPID, "queued-blocking")

	msg := defs.Message{Tag: defs.MsgBlockingScalar, Scalar: defs.ScalarArgs{ID: 3, A: 5}}
	result := transport.Send(clientPID, 1, cid, msg)
	assert.Equal(t, result.Tag, defs.ResBlockedProcess)

	sidx, _ := transport.Registry.SidxFromSID(sid)
	ep := transport.Registry.Endpoint(sidx)
	assert.Equal(t, ep.QueueLen(), 1)

	recv := transport.Receive(serverPID, serverTID, sid)
	assert.Equal(t, recv.Tag, defs.ResMessage)
	assert.Assert(t, recv.Envelope.Sender.Idx != 0)

	reply := transport.ReturnScalar1(serverPID, recv.Envelope.Sender, 42)
	assert.Equal(t, reply.Tag, defs.ResOk)

	clientResult, err := svc.ThreadResult(clientPID, 1)
	assert.Equal(t, err, defs.ErrNone)
	assert.Equal(t, clientResult.Tag, defs.ResScalar1)
	assert.Equal(t, clientResult.Scalar1, uintptr(42))
}
