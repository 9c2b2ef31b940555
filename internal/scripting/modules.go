package scripting

import (
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Modules are the host functions exposed to scripts under the engine global.
// A nil Roll makes engine.dice.roll return a zero total.
type Modules struct {
	Roll   func(expr string) int
	Logger *zap.Logger
}

// RegisterModules registers engine.log and engine.dice into L.
//
// Precondition: L must be from NewSandboxedState.
// Postcondition: engine global is defined in L.
func RegisterModules(L *lua.LState, m Modules) {
	logger := m.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	engine := L.NewTable()
	L.SetGlobal("engine", engine)

	logTbl := L.NewTable()
	levels := map[string]func(string, ...zap.Field){
		"debug": logger.Debug,
		"info":  logger.Info,
		"warn":  logger.Warn,
		"error": logger.Error,
	}
	for name, fn := range levels {
		fn := fn
		L.SetField(logTbl, name, L.NewFunction(func(L *lua.LState) int {
			fn(L.CheckString(1), zap.String("source", "lua"))
			return 0
		}))
	}
	L.SetField(engine, "log", logTbl)

	diceTbl := L.NewTable()
	L.SetField(diceTbl, "roll", L.NewFunction(func(L *lua.LState) int {
		expr := L.CheckString(1)
		total := 0
		if m.Roll != nil {
			total = m.Roll(expr)
		}
		res := L.NewTable()
		L.SetField(res, "expression", lua.LString(expr))
		L.SetField(res, "total", lua.LNumber(total))
		L.Push(res)
		return 1
	}))
	L.SetField(engine, "dice", diceTbl)
}
