package scripting

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Engine wraps a single gopher-lua VM for game rule hooks.
// Single-goroutine access only (simulation loop).
type Engine struct {
	vm  *lua.LState
	log *zap.Logger
}

// NewEngine creates a Lua engine and loads all scripts from the given
// directory: top-level files first, then the optional core and events
// subdirectories.
func NewEngine(scriptsDir string, log *zap.Logger) (*Engine, error) {
	vm := lua.NewState(lua.Options{
		SkipOpenLibs: false,
	})

	// Set API version global
	vm.SetGlobal("API_VERSION", lua.LNumber(1))

	e := &Engine{vm: vm, log: log}

	for _, dir := range []string{scriptsDir, filepath.Join(scriptsDir, "core"), filepath.Join(scriptsDir, "events")} {
		if err := e.loadDir(dir); err != nil {
			vm.Close()
			return nil, fmt.Errorf("load scripts: %w", err)
		}
	}

	return e, nil
}

// loadDir loads all .lua files in a directory.
func (e *Engine) loadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // skip missing dirs
		}
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".lua" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := e.vm.DoFile(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
		e.log.Debug("loaded lua script", zap.String("file", path))
	}
	return nil
}

// HasFunc reports whether a global Lua function with the given name exists.
func (e *Engine) HasFunc(name string) bool {
	_, ok := e.vm.GetGlobal(name).(*lua.LFunction)
	return ok
}

// EndContext is the data passed to the Lua check_end hook.
type EndContext struct {
	TickCount      uint64
	TotalGameTime  float64
	Day            int
	DayProgress    float64
	MilestoneCount int
	Resources      map[string]float64 // amount by resource ID
	Flags          []string
}

// CheckEnd calls the Lua check_end function. A missing function means the
// script has no opinion and returns false.
func (e *Engine) CheckEnd(ctx EndContext) (bool, error) {
	fn := e.vm.GetGlobal("check_end")
	if fn == lua.LNil {
		return false, nil
	}

	t := e.vm.NewTable()
	t.RawSetString("tick_count", lua.LNumber(ctx.TickCount))
	t.RawSetString("total_game_time", lua.LNumber(ctx.TotalGameTime))
	t.RawSetString("day", lua.LNumber(ctx.Day))
	t.RawSetString("day_progress", lua.LNumber(ctx.DayProgress))
	t.RawSetString("milestones", lua.LNumber(ctx.MilestoneCount))

	res := e.vm.NewTable()
	for id, amount := range ctx.Resources {
		res.RawSetString(id, lua.LNumber(amount))
	}
	t.RawSetString("resources", res)

	flags := e.vm.NewTable()
	for _, f := range ctx.Flags {
		flags.RawSetString(f, lua.LTrue)
	}
	t.RawSetString("flags", flags)

	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    1,
		Protect: true,
	}, t); err != nil {
		return false, fmt.Errorf("lua check_end: %w", err)
	}

	result := e.vm.Get(-1)
	e.vm.Pop(1)
	return lua.LVAsBool(result), nil
}

// OnEvent calls the Lua on_event function with the event kind and a flat
// payload table. Missing function is a no-op; script errors are logged.
// Supported payload values are string, bool, int, uint64 and float64.
func (e *Engine) OnEvent(kind string, payload map[string]any) {
	fn := e.vm.GetGlobal("on_event")
	if fn == lua.LNil {
		return
	}

	t := e.vm.NewTable()
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		t.RawSetString(k, toLValue(payload[k]))
	}

	if err := e.vm.CallByParam(lua.P{
		Fn:      fn,
		NRet:    0,
		Protect: true,
	}, lua.LString(kind), t); err != nil {
		e.log.Error("lua on_event error", zap.String("kind", kind), zap.Error(err))
	}
}

// --- Lua helpers ---

func toLValue(v any) lua.LValue {
	switch v := v.(type) {
	case string:
		return lua.LString(v)
	case bool:
		return lua.LBool(v)
	case int:
		return lua.LNumber(v)
	case uint64:
		return lua.LNumber(v)
	case float64:
		return lua.LNumber(v)
	default:
		return lua.LNil
	}
}

// Close shuts down the Lua VM.
func (e *Engine) Close() {
	e.vm.Close()
}
