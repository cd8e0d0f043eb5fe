package value

import "ruavm/internal/bytecode"

// Closure is either a script closure (Proto set, backed by upvalue
// cells boxed so multiple closures can share mutation) or a host
// closure (Host set, opaque to this package — the vm package supplies
// and invokes the concrete func(*State) int). Grounded on
// original_source/src/state/closure.rs's Closure{proto, upvals}.
type Closure struct {
	Proto    *bytecode.Prototype
	Upvalues []*Value

	Host     any // func(*State) int, set by package vm
	HostName string
}

// NewScriptClosure wraps a prototype with freshly allocated,
// nil-initialized upvalue cells.
func NewScriptClosure(proto *bytecode.Prototype) *Closure {
	cells := make([]*Value, len(proto.Upvalues))
	for i := range cells {
		v := Nil
		cells[i] = &v
	}
	return &Closure{Proto: proto, Upvalues: cells}
}

// NewHostClosure wraps a host function value (opaque `any`, concretely
// func(*State) int in package vm) under a debug name.
func NewHostClosure(name string, fn any) *Closure {
	return &Closure{Host: fn, HostName: name}
}

// IsHost reports whether c wraps a host function rather than a script
// prototype.
func (c *Closure) IsHost() bool { return c.Proto == nil }
