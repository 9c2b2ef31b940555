// Package scripting provides a sandboxed GopherLua execution environment
// for encounter scripts. It has no dependency on tracker packages; dice and
// logging are injected through Modules.
package scripting

import (
	"context"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"
)

// DefaultInstructionLimit is the maximum number of Lua opcodes allowed per
// script call when no override is configured.
const DefaultInstructionLimit = 100_000

// safeLibs are the only standard libraries a sandboxed state opens.
var safeLibs = []struct {
	name string
	open lua.LGFunction
}{
	{lua.BaseLibName, lua.OpenBase},
	{lua.TabLibName, lua.OpenTable},
	{lua.StringLibName, lua.OpenString},
	{lua.MathLibName, lua.OpenMath},
}

// blockedGlobals are removed after the base library opens. print is
// included because stdout belongs to the terminal front end; scripts log
// through engine.log instead.
var blockedGlobals = []string{
	"dofile", "loadfile", "load", "loadstring", "collectgarbage", "require", "module", "print",
}

// opBudget is a context whose Done is polled by the VM once per opcode.
// It cancels itself when the budget is spent.
type opBudget struct {
	context.Context
	cancel context.CancelFunc
	left   atomic.Int64
}

func (b *opBudget) Done() <-chan struct{} {
	if b.left.Add(-1) <= 0 {
		b.cancel()
	}
	return b.Context.Done()
}

// newOpBudget returns a context that is cancelled after limit opcodes or
// when parent is cancelled, whichever comes first.
//
// Precondition: limit > 0.
func newOpBudget(parent context.Context, limit int) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	b := &opBudget{Context: ctx, cancel: cancel}
	b.left.Store(int64(limit))
	return b, cancel
}

// NewSandboxedState creates an LState with only the base, table, string and
// math libraries and without the loaders, the collector control or print.
// Top-level chunk execution is bounded by instLimit opcodes; Script.Call
// installs a fresh budget for every hook call.
//
// Precondition: instLimit >= 0; 0 uses DefaultInstructionLimit.
// Postcondition: the caller owns the LState and must Close it.
func NewSandboxedState(instLimit int) *lua.LState {
	if instLimit <= 0 {
		instLimit = DefaultInstructionLimit
	}

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	for _, lib := range safeLibs {
		L.Push(L.NewFunction(lib.open))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	for _, name := range blockedGlobals {
		L.SetGlobal(name, lua.LNil)
	}

	// The budget cancels itself; the load path never needs the cancel func.
	ctx, _ := newOpBudget(context.Background(), instLimit) //nolint:govet
	L.SetContext(ctx)
	return L
}
