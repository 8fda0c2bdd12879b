package server

import (
	"encoding/json"
	"io"
	"net"
	"testing"
	"time"

	"github.com/s2-streamstore/framerpc/codec"
	"github.com/s2-streamstore/framerpc/message"
	"github.com/s2-streamstore/framerpc/protocol"
)

type Args struct {
	A, B int
}

type Reply struct {
	Result int
}

type Arith struct{}

func (a *Arith) Add(args *Args, reply *Reply) error {
	reply.Result = args.A + args.B
	return nil
}

// writeCall streams one call at the frame level: REQUEST, the payload split
// into two DATA frames, then END.
func writeCall(t *testing.T, conn net.Conn, seq uint32, method string, payload []byte) {
	t.Helper()
	cdc := codec.GetCodec(codec.CodecTypeJSON)

	open, err := cdc.Encode(&message.Envelope{ServiceMethod: method})
	if err != nil {
		t.Fatal(err)
	}
	if err := protocol.Encode(conn, &protocol.Header{
		CodecType: protocol.CodecTypeJSON,
		FrameType: protocol.FrameRequest,
		Seq:       seq,
		Length:    uint32(len(open)),
	}, open); err != nil {
		t.Fatal(err)
	}

	half := len(payload) / 2
	for _, chunk := range [][]byte{payload[:half], payload[half:]} {
		if err := protocol.Encode(conn, &protocol.Header{
			CodecType: protocol.CodecTypeJSON,
			FrameType: protocol.FrameData,
			Seq:       seq,
			Length:    uint32(len(chunk)),
		}, chunk); err != nil {
			t.Fatal(err)
		}
	}

	if err := protocol.Encode(conn, &protocol.Header{
		CodecType: protocol.CodecTypeJSON,
		FrameType: protocol.FrameEnd,
		Seq:       seq,
	}, nil); err != nil {
		t.Fatal(err)
	}
}

func readResponse(t *testing.T, conn net.Conn, wantSeq uint32) *message.Envelope {
	t.Helper()
	header, payload, err := protocol.Decode(conn)
	if err != nil {
		t.Fatal(err)
	}
	if header.FrameType != protocol.FrameResponse {
		t.Fatalf("expect RESPONSE frame, got %d", header.FrameType)
	}
	if header.Seq != wantSeq {
		t.Fatalf("expect seq %d, got %d", wantSeq, header.Seq)
	}

	env := &message.Envelope{}
	cdc := codec.GetCodec(codec.CodecType(header.CodecType))
	if err := cdc.Decode(payload, env); err != nil {
		t.Fatal(err)
	}
	return env
}

func TestServerStreamedRequest(t *testing.T) {
	svr := NewServer(nil)
	if err := svr.Register(&Arith{}); err != nil {
		t.Fatalf("failed to register service: %v", err)
	}
	go svr.Serve("tcp", ":8888", "", nil)
	defer svr.Shutdown(time.Second)
	time.Sleep(100 * time.Millisecond)

	conn, err := net.Dial("tcp", ":8888")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	payload, err := json.Marshal(&Args{1, 2})
	if err != nil {
		t.Fatal(err)
	}
	writeCall(t, conn, 123, "Arith.Add", payload)

	env := readResponse(t, conn, 123)
	if env.Error != "" {
		t.Fatalf("server error: %s", env.Error)
	}

	var reply Reply
	if err := json.Unmarshal(env.Payload, &reply); err != nil {
		t.Fatal(err)
	}
	if reply.Result != 3 {
		t.Fatalf("expect result = 3, got %v", reply.Result)
	}
}

func TestServerUnknownMethod(t *testing.T) {
	svr := NewServer(nil)
	if err := svr.Register(&Arith{}); err != nil {
		t.Fatal(err)
	}
	go svr.Serve("tcp", ":8889", "", nil)
	defer svr.Shutdown(time.Second)
	time.Sleep(100 * time.Millisecond)

	conn, err := net.Dial("tcp", ":8889")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	payload, _ := json.Marshal(&Args{1, 2})
	writeCall(t, conn, 7, "Arith.Divide", payload)

	env := readResponse(t, conn, 7)
	if env.Error == "" {
		t.Fatal("expect an error for an unknown method")
	}
}

// A client that opens calls without ever finishing their bodies must not pin
// unbounded memory; past the per-connection cap the server drops the
// connection.
func TestServerCapsAbandonedAssemblies(t *testing.T) {
	svr := NewServer(nil)
	if err := svr.Register(&Arith{}); err != nil {
		t.Fatal(err)
	}
	go svr.Serve("tcp", ":8890", "", nil)
	defer svr.Shutdown(time.Second)
	time.Sleep(100 * time.Millisecond)

	conn, err := net.Dial("tcp", ":8890")
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	cdc := codec.GetCodec(codec.CodecTypeJSON)
	open, err := cdc.Encode(&message.Envelope{ServiceMethod: "Arith.Add"})
	if err != nil {
		t.Fatal(err)
	}

	for seq := uint32(1); seq <= maxInflightPerConn+1; seq++ {
		if err := protocol.Encode(conn, &protocol.Header{
			CodecType: protocol.CodecTypeJSON,
			FrameType: protocol.FrameRequest,
			Seq:       seq,
			Length:    uint32(len(open)),
		}, open); err != nil {
			// The server may have dropped us mid-loop; that is the point
			return
		}
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 1)
	if _, err := conn.Read(buf); err != io.EOF {
		t.Fatalf("expect the connection closed past the cap, got %v", err)
	}
}

func TestServiceScansMethods(t *testing.T) {
	svc, err := newService(&Arith{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := svc.method["Add"]; !ok {
		t.Fatal("Add should have been registered")
	}
}

func TestServiceRejectsNonPointer(t *testing.T) {
	if _, err := newService(Arith{}); err == nil {
		t.Fatal("expect an error for a non-pointer receiver")
	}
}
