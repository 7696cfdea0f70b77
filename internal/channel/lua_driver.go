package channel

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	lua "github.com/yuin/gopher-lua"
)

// LuaDriver hands every write to an apply(cw, ww) function defined by a Lua
// script. It is meant for custom output glue without rebuilding the daemon.
//
//	local log = require("log")
//	function apply(cw, ww)
//	  log.info("pwm", {cw = cw, ww = ww})
//	end
type LuaDriver struct {
	mu    sync.Mutex
	L     *lua.LState
	apply *lua.LFunction
}

// NewLuaDriver loads the script at path.
func NewLuaDriver(path string) (*LuaDriver, error) {
	return newLuaDriver(func(L *lua.LState) error { return L.DoFile(path) })
}

// NewLuaDriverFromString loads a script from source.
func NewLuaDriverFromString(src string) (*LuaDriver, error) {
	return newLuaDriver(func(L *lua.LState) error { return L.DoString(src) })
}

func newLuaDriver(load func(*lua.LState) error) (*LuaDriver, error) {
	L := lua.NewState()
	L.PreloadModule("log", luaLogLoader)

	if err := load(L); err != nil {
		L.Close()
		return nil, fmt.Errorf("failed to execute Lua script: %w", err)
	}

	fn, ok := L.GetGlobal("apply").(*lua.LFunction)
	if !ok {
		L.Close()
		return nil, fmt.Errorf("lua script does not define function apply(cw, ww)")
	}

	return &LuaDriver{L: L, apply: fn}, nil
}

// Apply calls the script. Script errors are returned, never raised.
func (d *LuaDriver) Apply(ctx context.Context, l Level) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.L.SetContext(ctx)
	defer d.L.RemoveContext()

	err := d.L.CallByParam(lua.P{
		Fn:      d.apply,
		NRet:    0,
		Protect: true,
	}, lua.LNumber(l.CW), lua.LNumber(l.WW))
	if err != nil {
		return fmt.Errorf("lua apply: %w", err)
	}
	return nil
}

// Close releases the Lua state.
func (d *LuaDriver) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.L.Close()
}

// luaLogLoader exposes log.debug/info/warn/error(msg, fields?) to scripts.
func luaLogLoader(L *lua.LState) int {
	mod := L.NewTable()
	L.SetField(mod, "debug", L.NewFunction(luaLogFunc(log.Debug)))
	L.SetField(mod, "info", L.NewFunction(luaLogFunc(log.Info)))
	L.SetField(mod, "warn", L.NewFunction(luaLogFunc(log.Warn)))
	L.SetField(mod, "error", L.NewFunction(luaLogFunc(log.Error)))
	L.Push(mod)
	return 1
}

func luaLogFunc(level func() *zerolog.Event) lua.LGFunction {
	return func(L *lua.LState) int {
		msg := L.CheckString(1)
		event := level().Str("source", "lua")
		if tbl, ok := L.Get(2).(*lua.LTable); ok {
			tbl.ForEach(func(key, value lua.LValue) {
				switch v := value.(type) {
				case lua.LNumber:
					event = event.Float64(lua.LVAsString(key), float64(v))
				case lua.LBool:
					event = event.Bool(lua.LVAsString(key), bool(v))
				default:
					event = event.Str(lua.LVAsString(key), value.String())
				}
			})
		}
		event.Msg(msg)
		return 0
	}
}
