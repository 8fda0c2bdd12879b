package transport

import (
	"context"
	"encoding/json"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/s2-streamstore/framerpc/body"
	"github.com/s2-streamstore/framerpc/codec"
	"github.com/s2-streamstore/framerpc/message"
	"github.com/s2-streamstore/framerpc/server"
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

func startServer(t *testing.T, addr string) *server.Server {
	t.Helper()
	svr := server.NewServer(nil)
	if err := svr.Register(&Arith{}); err != nil {
		t.Fatal(err)
	}
	// Echo the request's trailing metadata back as response trailers so
	// clients can verify the trailers frame arrived.
	svr.Use(func(next server.Handler) server.Handler {
		return func(ctx context.Context, req *server.Incoming) *message.Response {
			resp := next(ctx, req)
			resp.Trailers = req.Trailers
			return resp
		}
	})
	go svr.Serve("tcp", addr, "", nil)
	time.Sleep(100 * time.Millisecond)
	return svr
}

func dialTransport(t *testing.T, addr string) *ClientTransport {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatal(err)
	}
	return NewClientTransport(conn, codec.CodecTypeJSON, nil)
}

func addRequest(a, b int) *message.Request {
	payload, _ := json.Marshal(&Args{A: a, B: b})
	return &message.Request{ServiceMethod: "Arith.Add", Body: body.Bytes(payload)}
}

// Serial calls on one connection.
func TestClientTransportSerial(t *testing.T) {
	svr := startServer(t, ":9001")
	defer svr.Shutdown(time.Second)

	ct := dialTransport(t, ":9001")
	defer ct.Close()

	cases := []struct {
		a, b, expect int
	}{
		{1, 2, 3},
		{10, 20, 30},
		{100, 200, 300},
	}

	for _, tc := range cases {
		resp, err := ct.Invoke(context.Background(), addRequest(tc.a, tc.b))
		if err != nil {
			t.Fatal(err)
		}
		if resp.Error != "" {
			t.Fatalf("server error: %s", resp.Error)
		}

		var reply Reply
		if err := json.Unmarshal(resp.Payload, &reply); err != nil {
			t.Fatal(err)
		}
		if reply.Result != tc.expect {
			t.Fatalf("expect %d, got %d", tc.expect, reply.Result)
		}
	}
}

// Concurrent calls multiplexed on one connection — the core multiplexing test.
func TestClientTransportConcurrent(t *testing.T) {
	svr := startServer(t, ":9002")
	defer svr.Shutdown(time.Second)

	ct := dialTransport(t, ":9002")
	defer ct.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			resp, err := ct.Invoke(context.Background(), addRequest(n, n))
			if err != nil {
				t.Errorf("invoke failed: %v", err)
				return
			}
			if resp.Error != "" {
				t.Errorf("server error: %s", resp.Error)
				return
			}

			var reply Reply
			if err := json.Unmarshal(resp.Payload, &reply); err != nil {
				t.Errorf("unmarshal failed: %v", err)
				return
			}
			if reply.Result != n*2 {
				t.Errorf("expect %d, got %d", n*2, reply.Result)
			}
		}(i)
	}
	wg.Wait()
}

// A chunked body must reassemble into the same payload server-side.
func TestClientTransportChunkedBody(t *testing.T) {
	svr := startServer(t, ":9003")
	defer svr.Shutdown(time.Second)

	ct := dialTransport(t, ":9003")
	defer ct.Close()

	payload, _ := json.Marshal(&Args{A: 7, B: 35})
	req := &message.Request{
		ServiceMethod: "Arith.Add",
		// 4-byte chunks force several DATA frames per call
		Body: body.Chunked(strings.NewReader(string(payload)), 4),
	}

	resp, err := ct.Invoke(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Error != "" {
		t.Fatalf("server error: %s", resp.Error)
	}

	var reply Reply
	if err := json.Unmarshal(resp.Payload, &reply); err != nil {
		t.Fatal(err)
	}
	if reply.Result != 42 {
		t.Fatalf("expect 42, got %d", reply.Result)
	}
}

// Trailing metadata travels after the body and comes back via the echo
// middleware installed in startServer.
func TestClientTransportTrailers(t *testing.T) {
	svr := startServer(t, ":9004")
	defer svr.Shutdown(time.Second)

	ct := dialTransport(t, ":9004")
	defer ct.Close()

	payload, _ := json.Marshal(&Args{A: 1, B: 1})
	req := &message.Request{
		ServiceMethod: "Arith.Add",
		Body:          body.WithTrailers(body.Bytes(payload), map[string]string{"checksum": "abc123"}),
	}

	resp, err := ct.Invoke(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Trailers.Get("checksum") != "abc123" {
		t.Fatalf("expect trailers echoed back, got %v", resp.Trailers)
	}
}

// A broken connection fails pending calls instead of hanging them.
func TestClientTransportConnectionBroken(t *testing.T) {
	ln, err := net.Listen("tcp", ":9005")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		// Accept and immediately slam the connection shut
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Close()
	}()

	ct := dialTransport(t, ":9005")
	defer ct.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if _, err := ct.Invoke(ctx, addRequest(1, 2)); err == nil {
		t.Fatal("expect an error from a closed connection")
	}
}
