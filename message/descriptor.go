package message

import (
	"encoding/json"
	"fmt"
	"slices"
)

// DeviceDescriptor is one entry of a "list" response.
type DeviceDescriptor struct {
	DeviceID   DeviceHandle `json:"deviceId"`
	Components []string     `json:"typeNames"` // never empty
}

// Validate rejects descriptors the remote side must never produce.
func (d *DeviceDescriptor) Validate() error {
	if len(d.Components) == 0 {
		return fmt.Errorf("%w: device %s has no components", ErrInvalidData, d.DeviceID)
	}
	return nil
}

// Has reports whether the device exposes the named component.
func (d *DeviceDescriptor) Has(component string) bool {
	return slices.Contains(d.Components, component)
}

// MethodDescriptor is one entry of a "methods" response.
type MethodDescriptor struct {
	Name                   string          `json:"name"`
	Parameters             []ParameterType `json:"parameters"` // positional argument contract
	ReturnType             string          `json:"returnType"`
	Description            string          `json:"description,omitempty"`
	ReturnValueDescription string          `json:"returnValueDescription,omitempty"`
}

// ParameterType describes one positional parameter of a method.
type ParameterType struct {
	Type string `json:"type"`
}

// UnmarshalJSON accepts both {"type":"int"} and the bare "int" form that
// older bus revisions emit.
func (p *ParameterType) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err == nil {
		p.Type = name
		return nil
	}
	var obj struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	p.Type = obj.Type
	return nil
}

// Signature renders the method as name(type, ...) type.
func (m *MethodDescriptor) Signature() string {
	s := m.Name + "("
	for i, p := range m.Parameters {
		if i > 0 {
			s += ", "
		}
		s += p.Type
	}
	s += ")"
	if m.ReturnType != "" {
		s += " " + m.ReturnType
	}
	return s
}
