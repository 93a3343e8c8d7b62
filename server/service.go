package server

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"unicode"
	"unicode/utf8"

	"hlapi-bus/message"
)

// Documented is implemented by devices that describe their methods.
type Documented interface {
	Doc(method string) (description, returns string)
}

type methodType struct {
	method    reflect.Method
	ArgTypes  []reflect.Type
	ReplyType reflect.Type // nil for methods without a value
	hasErr    bool
}

// service is one simulated device: a receiver and its exported methods.
type service struct {
	id         message.DeviceHandle
	components []string
	rcvr       reflect.Value
	typ        reflect.Type
	method     map[string]*methodType // keyed by wire name
}

var errorType = reflect.TypeOf((*error)(nil)).Elem()

// NewService scans rcvr for methods callable over the bus. Without explicit
// components the device exposes its type name.
func NewService(id message.DeviceHandle, rcvr any, components ...string) (*service, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("server: device must be a pointer, got %v", typ)
	}
	if typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("server: device must point to a struct, got %s", typ.Elem().Kind())
	}
	if len(components) == 0 {
		components = []string{lowerCamel(typ.Elem().Name())}
	}

	svc := &service{
		id:         id,
		components: components,
		rcvr:       reflect.ValueOf(rcvr),
		typ:        typ,
		method:     make(map[string]*methodType),
	}
	svc.RegisterMethods()
	if len(svc.method) == 0 {
		return nil, fmt.Errorf("server: %s has no callable methods", typ.Elem().Name())
	}
	return svc, nil
}

// RegisterMethods keeps methods returning (), (T), (error) or (T, error).
// Arguments may be any JSON-decodable type.
func (s *service) RegisterMethods() {
	for i := 0; i < s.typ.NumMethod(); i++ {
		m := s.typ.Method(i)
		if m.Name == "Doc" {
			continue
		}

		mt := &methodType{method: m}
		for in := 1; in < m.Type.NumIn(); in++ {
			mt.ArgTypes = append(mt.ArgTypes, m.Type.In(in))
		}
		switch out := m.Type.NumOut(); {
		case out == 0:
		case out == 1 && m.Type.Out(0) == errorType:
			mt.hasErr = true
		case out == 1:
			mt.ReplyType = m.Type.Out(0)
		case out == 2 && m.Type.Out(1) == errorType:
			mt.ReplyType = m.Type.Out(0)
			mt.hasErr = true
		default:
			continue
		}
		if m.Type.IsVariadic() {
			continue
		}
		s.method[lowerCamel(m.Name)] = mt
	}
}

// Descriptor is the device's "list" entry.
func (s *service) Descriptor() message.DeviceDescriptor {
	return message.DeviceDescriptor{DeviceID: s.id, Components: s.components}
}

// Methods describes every callable method, ordered by name.
func (s *service) Methods() []message.MethodDescriptor {
	names := make([]string, 0, len(s.method))
	for name := range s.method {
		names = append(names, name)
	}
	sort.Strings(names)

	doc, _ := s.rcvr.Interface().(Documented)
	out := make([]message.MethodDescriptor, 0, len(names))
	for _, name := range names {
		mt := s.method[name]
		md := message.MethodDescriptor{
			Name:       name,
			Parameters: make([]message.ParameterType, len(mt.ArgTypes)),
			ReturnType: "void",
		}
		for i, t := range mt.ArgTypes {
			md.Parameters[i] = message.ParameterType{Type: typeName(t)}
		}
		if mt.ReplyType != nil {
			md.ReturnType = typeName(mt.ReplyType)
		}
		if doc != nil {
			md.Description, md.ReturnValueDescription = doc.Doc(name)
		}
		out = append(out, md)
	}
	return out
}

// Call decodes the positional parameters and invokes the method.
func (s *service) Call(name string, params []json.RawMessage) (any, error) {
	mt, ok := s.method[name]
	if !ok {
		return nil, fmt.Errorf("no method %q on device %s", name, s.id)
	}
	if len(params) != len(mt.ArgTypes) {
		return nil, fmt.Errorf("%s expects %d parameters, got %d", name, len(mt.ArgTypes), len(params))
	}

	args := make([]reflect.Value, 1+len(params))
	args[0] = s.rcvr
	for i, raw := range params {
		argv := reflect.New(mt.ArgTypes[i])
		if err := json.Unmarshal(raw, argv.Interface()); err != nil {
			return nil, fmt.Errorf("%s parameter %d: %v", name, i, err)
		}
		args[i+1] = argv.Elem()
	}

	results := mt.method.Func.Call(args)
	if mt.hasErr {
		if errv := results[len(results)-1]; !errv.IsNil() {
			return nil, errv.Interface().(error)
		}
	}
	if mt.ReplyType == nil {
		return nil, nil
	}
	return results[0].Interface(), nil
}

func lowerCamel(s string) string {
	r, n := utf8.DecodeRuneInString(s)
	return string(unicode.ToLower(r)) + s[n:]
}

func typeName(t reflect.Type) string {
	switch t.Kind() {
	case reflect.Bool:
		return "boolean"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32:
		return "int"
	case reflect.Int64, reflect.Uint64:
		return "long"
	case reflect.Float32, reflect.Float64:
		return "double"
	case reflect.String:
		return "string"
	case reflect.Slice, reflect.Array:
		return typeName(t.Elem()) + "[]"
	case reflect.Ptr:
		return typeName(t.Elem())
	default:
		return "object"
	}
}
