// Package context implements the embedder-facing native function
// registry: the set of Handler functions, constant values, and type
// metadata a host program installs before building and running a
// Unit. The linker consults a Context to satisfy any function a unit
// requires but does not itself define.
package context

import (
	"fmt"

	"github.com/vybium/vybium-script-vm/internal/vybium-script-vm/lang/item"
	"github.com/vybium/vybium-script-vm/internal/vybium-script-vm/lang/value"
)

// Handler is a native function installed into a Context. stack is the
// calling convention's argument/return channel: args values are
// already pushed, and the handler must leave exactly one return value
// on top before returning.
type Handler func(stack Stack, args int) error

// Stack is the minimal argument/return channel a Handler interacts
// with; the VM's own operand stack implements a superset of this
// interface (see internal/vybium-script-vm/vm.VM).
type Stack interface {
	Push(value.Value)
	Pop() (value.Value, error)
	PopSequence(n int) ([]value.Value, error)
}

// Error is raised for invalid registrations and unresolved lookups.
type Error struct{ msg string }

func (e *Error) Error() string { return e.msg }

func errf(format string, args ...interface{}) *Error {
	return &Error{msg: fmt.Sprintf(format, args...)}
}

// ConflictError reports re-registering a hash that is already bound.
func ConflictError(path item.Item) error {
	return errf("conflicting native function already registered `%s`", path)
}

// Context is the embedder's registry of native functions, constant
// values and type metadata, linked against a compiled Unit to resolve
// any function the unit's own instructions require but do not define.
type Context struct {
	functions map[item.Hash]Handler
	names     map[item.Hash]item.Item
	types     map[item.Hash]item.Item
	constants map[item.Hash]value.Value
}

// New constructs an empty context.
func New() *Context {
	return &Context{
		functions: map[item.Hash]Handler{},
		names:     map[item.Hash]item.Item{},
		types:     map[item.Hash]item.Item{},
		constants: map[item.Hash]value.Value{},
	}
}

// RegisterFn installs a native handler under path, usable from script
// code as a free function call.
func (c *Context) RegisterFn(path item.Item, handler Handler) error {
	hash := item.Function(path)
	if _, exists := c.functions[hash]; exists {
		return ConflictError(path)
	}
	c.functions[hash] = handler
	c.names[hash] = path
	return nil
}

// RegisterType records a struct/enum type under path, so HasType
// reports it. The linker and the compiler do not consult registered
// types.
func (c *Context) RegisterType(path item.Item) {
	c.types[item.Type(path)] = path
}

// RegisterConstant installs a named constant value, resolvable the
// same way as a zero-argument native function.
func (c *Context) RegisterConstant(path item.Item, v value.Value) {
	c.constants[item.Function(path)] = v
}

// Lookup resolves a handler by hash, used by the VM's call dispatch
// (the unit linker's required-function check uses Contains).
func (c *Context) Lookup(hash item.Hash) (Handler, bool) {
	h, ok := c.functions[hash]
	return h, ok
}

// LookupConstant resolves a constant by hash.
func (c *Context) LookupConstant(hash item.Hash) (value.Value, bool) {
	v, ok := c.constants[hash]
	return v, ok
}

// Contains reports whether hash is satisfied by either a native
// function or a constant — the signature the unit linker wants.
func (c *Context) Contains(hash item.Hash) bool {
	if _, ok := c.functions[hash]; ok {
		return true
	}
	_, ok := c.constants[hash]
	return ok
}

// HasType reports whether path is a registered type.
func (c *Context) HasType(path item.Item) bool {
	_, ok := c.types[item.Type(path)]
	return ok
}

// IterNames returns every registered native function's path, for
// diagnostics and wildcard-import expansion.
func (c *Context) IterNames() []item.Item {
	out := make([]item.Item, 0, len(c.names))
	for _, name := range c.names {
		out = append(out, name)
	}
	return out
}
