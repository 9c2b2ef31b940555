package scripting

import (
	"context"
	"fmt"
	"os"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Script is one sandboxed VM loaded with a single source file.
//
// Script is safe for concurrent Call; calls are serialized because an
// LState is single-threaded.
type Script struct {
	mu     sync.Mutex
	L      *lua.LState
	name   string
	limit  int
	logger *zap.Logger
}

// LoadFile reads path and loads it with LoadString.
//
// Precondition: path must be a readable file.
func LoadFile(path string, instLimit int, mods Modules) (*Script, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scripting: reading %q: %w", path, err)
	}
	return LoadString(path, string(src), instLimit, mods)
}

// LoadString creates a sandboxed VM, registers mods and executes src.
// name labels errors and log entries.
//
// Postcondition: on success the caller owns the Script and must Close it.
func LoadString(name, src string, instLimit int, mods Modules) (*Script, error) {
	if instLimit <= 0 {
		instLimit = DefaultInstructionLimit
	}
	logger := mods.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	L := NewSandboxedState(instLimit)
	RegisterModules(L, mods)
	if err := L.DoString(src); err != nil {
		L.Close()
		return nil, fmt.Errorf("scripting: loading %q: %w", name, err)
	}
	return &Script{L: L, name: name, limit: instLimit, logger: logger}, nil
}

// Has reports whether the script defines a global function named hook.
func (s *Script) Has(hook string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.L.GetGlobal(hook).(*lua.LFunction)
	return ok
}

// Call invokes the global function hook with args converted by ToLua and
// returns its first result converted by FromLua. Each call runs under a
// fresh instruction limit and stops early when ctx is cancelled.
//
// Postcondition: returns (nil, nil) when hook is not defined; Lua runtime
// errors are logged at Warn level and returned.
func (s *Script) Call(ctx context.Context, hook string, args ...any) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fn := s.L.GetGlobal(hook)
	if fn == lua.LNil {
		return nil, nil
	}

	cctx, cancel := newOpBudget(ctx, s.limit)
	defer cancel()
	s.L.SetContext(cctx)
	defer s.L.RemoveContext()

	lvs := make([]lua.LValue, 0, len(args))
	for _, a := range args {
		lvs = append(lvs, ToLua(s.L, a))
	}
	if err := s.L.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, lvs...); err != nil {
		s.logger.Warn("scripting: Lua runtime error",
			zap.String("script", s.name),
			zap.String("hook", hook),
			zap.Error(err),
		)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("scripting: %s in %q: %w", hook, s.name, err)
	}

	ret := s.L.Get(-1)
	s.L.Pop(1)
	return FromLua(ret), nil
}

// Close releases the VM.
func (s *Script) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.L.Close()
}
