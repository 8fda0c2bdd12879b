package server

import (
	"fmt"
	"reflect"
)

type methodType struct {
	method    reflect.Method
	ArgType   reflect.Type
	ReplyType reflect.Type
}

// service holds one registered receiver and its callable methods.
type service struct {
	name   string
	rcvr   reflect.Value
	typ    reflect.Type
	method map[string]*methodType
}

// newService scans rcvr for methods with the RPC signature
// (receiver, *Args, *Reply) error and indexes them by name.
func newService(rcvr any) (*service, error) {
	typ := reflect.TypeOf(rcvr)
	if typ.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("rpc: rcvr must be a pointer, got %s", typ.Kind())
	}
	if typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("rpc: rcvr must point to a struct, got %s", typ.Elem().Kind())
	}

	svc := &service{
		name:   typ.Elem().Name(),
		rcvr:   reflect.ValueOf(rcvr),
		typ:    typ,
		method: make(map[string]*methodType),
	}
	svc.registerMethods()
	return svc, nil
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// registerMethods filters the receiver's exported methods down to those with
// the RPC signature: 3 inputs (receiver, *Args, *Reply), one error output.
func (s *service) registerMethods() {
	for i := 0; i < s.typ.NumMethod(); i++ {
		method := s.typ.Method(i)
		if method.Type.NumIn() != 3 || method.Type.NumOut() != 1 || method.Type.Out(0) != errorType ||
			method.Type.In(1).Kind() != reflect.Ptr || method.Type.In(2).Kind() != reflect.Ptr {
			continue
		}

		s.method[method.Name] = &methodType{
			method:    method,
			ArgType:   method.Type.In(1).Elem(),
			ReplyType: method.Type.In(2).Elem(),
		}
	}
}

// call invokes the method via reflection: receiver.Method(args, reply).
func (s *service) call(mt *methodType, argv, replyv reflect.Value) error {
	args := [3]reflect.Value{s.rcvr, argv, replyv}
	results := mt.method.Func.Call(args[:])
	if !results[0].IsNil() {
		return results[0].Interface().(error)
	}
	return nil
}
