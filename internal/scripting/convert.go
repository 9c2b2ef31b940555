package scripting

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// ToLua converts a Go value built from maps, slices, strings, numbers and
// booleans into a Lua value. Unsupported values become their fmt.Sprint text.
func ToLua(L *lua.LState, v any) lua.LValue {
	switch t := v.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return t
	case bool:
		return lua.LBool(t)
	case string:
		return lua.LString(t)
	case int:
		return lua.LNumber(t)
	case int32:
		return lua.LNumber(t)
	case int64:
		return lua.LNumber(t)
	case float32:
		return lua.LNumber(t)
	case float64:
		return lua.LNumber(t)
	case []any:
		tbl := L.NewTable()
		for _, item := range t {
			tbl.Append(ToLua(L, item))
		}
		return tbl
	case []map[string]any:
		tbl := L.NewTable()
		for _, item := range t {
			tbl.Append(ToLua(L, item))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		for k, item := range t {
			L.SetField(tbl, k, ToLua(L, item))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprint(t))
	}
}

// FromLua converts a Lua value into plain Go values. Tables whose keys are
// exactly 1..n become []any; other tables become map[string]any with keys
// rendered as strings. Functions and userdata become nil.
func FromLua(v lua.LValue) any {
	switch t := v.(type) {
	case lua.LBool:
		return bool(t)
	case lua.LString:
		return string(t)
	case lua.LNumber:
		f := float64(t)
		if f == float64(int64(f)) {
			return int(f)
		}
		return f
	case *lua.LTable:
		return tableFromLua(t)
	default:
		return nil
	}
}

func tableFromLua(t *lua.LTable) any {
	n := t.Len()
	count := 0
	t.ForEach(func(lua.LValue, lua.LValue) { count++ })
	if n > 0 && n == count {
		list := make([]any, 0, n)
		for i := 1; i <= n; i++ {
			list = append(list, FromLua(t.RawGetInt(i)))
		}
		return list
	}

	m := make(map[string]any, count)
	t.ForEach(func(k, val lua.LValue) {
		m[k.String()] = FromLua(val)
	})
	return m
}
