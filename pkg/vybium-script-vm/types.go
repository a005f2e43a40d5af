package vybiumscriptvm

import (
	"github.com/vybium/vybium-script-vm/internal/vybium-script-vm/fnptr"
	"github.com/vybium/vybium-script-vm/internal/vybium-script-vm/lang/value"
)

// Value is a script runtime value: unit, bool, integer, float, char,
// string, bytes, or one of the composite/suspended kinds produced by
// running a script (vec, tuple, object, typed tuple, variant tuple,
// fn pointer, generator, future, stream).
type Value = value.Value

// Kind tags the variant held by a Value.
type Kind = value.Kind

// Re-exported Kind constants for embedders inspecting a Value.Kind().
const (
	KindUnit         = value.KindUnit
	KindBool         = value.KindBool
	KindInteger      = value.KindInteger
	KindFloat        = value.KindFloat
	KindChar         = value.KindChar
	KindString       = value.KindString
	KindBytes        = value.KindBytes
	KindVec          = value.KindVec
	KindTuple        = value.KindTuple
	KindObject       = value.KindObject
	KindTypedTuple   = value.KindTypedTuple
	KindVariantTuple = value.KindVariantTuple
	KindOption       = value.KindOption
	KindResult       = value.KindResult
	KindFnPtr        = value.KindFnPtr
	KindGenerator    = value.KindGenerator
	KindFuture       = value.KindFuture
	KindStream       = value.KindStream
)

// Value constructors re-exported for embedders building arguments and
// constants without importing the internal value package directly.
var (
	Unit    = value.Unit
	Bool    = value.Bool
	Integer = value.Integer
	Float   = value.Float
	Char    = value.Char
	String  = value.String
	Bytes   = value.Bytes
	Vec     = value.Vec
	Tuple   = value.Tuple
	Object  = value.Object
)

// Config controls how a Unit is built and how a VM bounds the scripts
// it runs against it.
type Config struct {
	// RootModule names the item path new top-level declarations are
	// indexed under. Empty means the file's declarations live at the
	// module root.
	RootModule string

	// Prelude controls whether the built Unit starts pre-populated
	// with the standard library's default import bindings (dbg, int,
	// Object, Array, String, ...).
	Prelude bool

	// MaxCycles bounds the number of instructions a single Run/Resume
	// call executes before aborting with an error. <= 0 uses the VM's
	// built-in default.
	MaxCycles int

	// MaxCallDepth bounds call-frame nesting before aborting with an
	// error. <= 0 uses the VM's built-in default.
	MaxCallDepth int
}

// DefaultConfig returns a Config suitable for compiling a single
// standalone script file with the standard prelude and the VM's
// built-in execution limits.
func DefaultConfig() *Config {
	return &Config{
		RootModule:   "",
		Prelude:      true,
		MaxCycles:    0,
		MaxCallDepth: 0,
	}
}

// Validate reports whether c describes a usable configuration.
func (c *Config) Validate() error {
	if c.MaxCycles < 0 {
		return &VMError{Code: ErrInvalidConfig, Message: "MaxCycles must not be negative"}
	}
	if c.MaxCallDepth < 0 {
		return &VMError{Code: ErrInvalidConfig, Message: "MaxCallDepth must not be negative"}
	}
	return nil
}

// WithRootModule sets the item path new declarations are indexed
// under.
func (c *Config) WithRootModule(path string) *Config {
	c.RootModule = path
	return c
}

// WithPrelude toggles the standard prelude import bindings.
func (c *Config) WithPrelude(enabled bool) *Config {
	c.Prelude = enabled
	return c
}

// WithMaxCycles sets the instruction budget enforced by VMs run
// against scripts built with this Config.
func (c *Config) WithMaxCycles(n int) *Config {
	c.MaxCycles = n
	return c
}

// WithMaxCallDepth sets the call-frame depth limit enforced by VMs run
// against scripts built with this Config.
func (c *Config) WithMaxCallDepth(n int) *Config {
	c.MaxCallDepth = n
	return c
}

// SuspendKind classifies why a VM's Run/Resume returned control to the
// host instead of a final result.
type SuspendKind = fnptr.StopKind

const (
	// SuspendCallVM means a call crossed a context/unit boundary and a
	// fresh VM must run to completion before the caller can resume.
	SuspendCallVM = fnptr.StopCallVm
	// SuspendYield means a generator body yielded a value; resume with
	// VM.Resume to send a value back in and continue it.
	SuspendYield = fnptr.StopYield
	// SuspendAwait means an async body is awaiting a future that the
	// host must drive to completion.
	SuspendAwait = fnptr.StopAwait
)

// SuspendReason describes why Run or Resume returned before the
// script's entry function finished.
type SuspendReason struct {
	Kind  SuspendKind
	Value Value
}
