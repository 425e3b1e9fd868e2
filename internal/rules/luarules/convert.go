package luarules

import (
	lua "github.com/yuin/gopher-lua"
)

// luaToGo converts a Lua value into the json-encodable Go equivalent.
// Tables with consecutive integer keys starting at 1 become slices; all
// other tables become string-keyed maps. An empty table becomes an empty
// slice, so JSON round-trips keep `log`-style sequences as arrays.
func luaToGo(lv lua.LValue) any {
	switch v := lv.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		return float64(v)
	case lua.LString:
		return string(v)
	case *lua.LTable:
		maxn := v.MaxN()
		keys := 0
		v.ForEach(func(lua.LValue, lua.LValue) { keys++ })
		if keys == 0 {
			return []any{}
		}
		if maxn == keys {
			arr := make([]any, 0, maxn)
			for i := 1; i <= maxn; i++ {
				arr = append(arr, luaToGo(v.RawGetInt(i)))
			}
			return arr
		}
		m := make(map[string]any, keys)
		v.ForEach(func(k, val lua.LValue) {
			m[lua.LVAsString(k)] = luaToGo(val)
		})
		return m
	default:
		return lua.LVAsString(lv)
	}
}

// goToLua converts a json-decoded Go value into its Lua equivalent.
func goToLua(L *lua.LState, value any) lua.LValue {
	switch v := value.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(v)
	case float64:
		return lua.LNumber(v)
	case int:
		return lua.LNumber(v)
	case int64:
		return lua.LNumber(v)
	case string:
		return lua.LString(v)
	case []any:
		tbl := L.NewTable()
		for _, item := range v {
			tbl.Append(goToLua(L, item))
		}
		return tbl
	case map[string]any:
		tbl := L.NewTable()
		for key, item := range v {
			tbl.RawSetString(key, goToLua(L, item))
		}
		return tbl
	default:
		return lua.LNil
	}
}
