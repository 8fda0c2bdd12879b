package client

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/s2-streamstore/framerpc/body"
	"github.com/s2-streamstore/framerpc/codec"
	"github.com/s2-streamstore/framerpc/loadbalance"
	"github.com/s2-streamstore/framerpc/message"
	"github.com/s2-streamstore/framerpc/registry"
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

func setup(t *testing.T, addr string) (*server.Server, *Client) {
	t.Helper()
	svr := server.NewServer(nil)
	if err := svr.Register(&Arith{}); err != nil {
		t.Fatal(err)
	}
	go svr.Serve("tcp", addr, "", nil)
	time.Sleep(100 * time.Millisecond)

	reg := registry.NewStaticRegistry()
	reg.Register("Arith", registry.ServiceInstance{Addr: addr}, 10)

	cli := NewClient(reg, &loadbalance.RoundRobinBalancer{}, codec.CodecTypeJSON, 2, nil)
	return svr, cli
}

func TestClientCall(t *testing.T) {
	svr, cli := setup(t, "127.0.0.1:9101")
	defer svr.Shutdown(time.Second)
	defer cli.Close()

	reply := &Reply{}
	if err := cli.Call(context.Background(), "Arith.Add", &Args{A: 3, B: 5}, reply); err != nil {
		t.Fatal(err)
	}
	if reply.Result != 8 {
		t.Fatalf("expect 8, got %d", reply.Result)
	}
}

// Do returns the side-effect signal alongside the response; a successful call
// with a body always reads produced.
func TestClientDoReturnsSignal(t *testing.T) {
	svr, cli := setup(t, "127.0.0.1:9102")
	defer svr.Shutdown(time.Second)
	defer cli.Close()

	payload, _ := json.Marshal(&Args{A: 2, B: 2})
	req := &message.Request{
		ServiceMethod: "Arith.Add",
		Body:          body.Bytes(payload),
	}

	resp, sig, err := cli.Do(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Error != "" {
		t.Fatalf("server error: %s", resp.Error)
	}
	if !sig.Produced() {
		t.Fatal("expect produced after a successful call")
	}
}

// With nothing listening, the dial fails before the body is ever polled: the
// caller gets both the error and a not-produced signal, the exact case where
// a retry would be safe.
func TestClientDoSignalOnDialFailure(t *testing.T) {
	reg := registry.NewStaticRegistry()
	reg.Register("Arith", registry.ServiceInstance{Addr: "127.0.0.1:1"}, 10)
	cli := NewClient(reg, &loadbalance.RoundRobinBalancer{}, codec.CodecTypeJSON, 1, nil)
	defer cli.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	req := &message.Request{
		ServiceMethod: "Arith.Add",
		Body:          body.Bytes([]byte(`{"A":1,"B":1}`)),
	}
	_, sig, err := cli.Do(ctx, req)
	if err == nil {
		t.Fatal("expect a dial error")
	}
	if sig == nil {
		t.Fatal("the signal must be available on the failure path")
	}
	if sig.Produced() {
		t.Fatal("nothing was sent, signal must read not produced")
	}
}

func TestClientRejectsBadMethodFormat(t *testing.T) {
	reg := registry.NewStaticRegistry()
	cli := NewClient(reg, &loadbalance.RoundRobinBalancer{}, codec.CodecTypeJSON, 1, nil)
	defer cli.Close()

	if err := cli.Call(context.Background(), "NotAMethod", &Args{}, &Reply{}); err == nil {
		t.Fatal("expect an error for a malformed service method")
	}
}
