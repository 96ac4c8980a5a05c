package scripting

import (
	"os"
	"path/filepath"
	"testing"

	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func newTestEngine(t *testing.T, log *zap.Logger, files map[string]string) *Engine {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	e, err := NewEngine(dir, log)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	t.Cleanup(e.Close)
	return e
}

func TestCheckEnd(t *testing.T) {
	e := newTestEngine(t, zaptest.NewLogger(t), map[string]string{
		"core/end.lua": `
function check_end(ctx)
  return ctx.day >= 3 and ctx.resources.wood >= 10 and ctx.flags.tools == true
end`,
	})
	ctx := EndContext{Day: 3, Resources: map[string]float64{"wood": 10}, Flags: []string{"tools"}}
	over, err := e.CheckEnd(ctx)
	if err != nil || !over {
		t.Fatalf("CheckEnd = %v, %v; want true", over, err)
	}
	ctx.Day = 2
	if over, _ := e.CheckEnd(ctx); over {
		t.Fatalf("CheckEnd true before day 3")
	}
}

func TestCheckEndMissingHook(t *testing.T) {
	e := newTestEngine(t, zaptest.NewLogger(t), nil)
	if e.HasFunc("check_end") {
		t.Fatalf("unexpected check_end")
	}
	over, err := e.CheckEnd(EndContext{Day: 100})
	if over || err != nil {
		t.Fatalf("CheckEnd = %v, %v; want false, nil", over, err)
	}
}

func TestCheckEndScriptError(t *testing.T) {
	e := newTestEngine(t, zaptest.NewLogger(t), map[string]string{
		"end.lua": `function check_end(ctx) error("boom") end`,
	})
	if _, err := e.CheckEnd(EndContext{}); err == nil {
		t.Fatalf("expected error from failing script")
	}
}

func TestOnEvent(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	e := newTestEngine(t, zap.New(core), map[string]string{
		"events/hook.lua": `
seen = 0
function on_event(kind, payload)
  seen = seen + 1
  last_kind = kind
  last_day = payload.day
  if kind == "bad" then error("bad event") end
end`,
	})
	e.OnEvent("day_started", map[string]any{"day": 4, "total_game_time": 240.0})
	if got := e.vm.GetGlobal("last_day"); got != lua.LNumber(4) {
		t.Fatalf("last_day = %v, want 4", got)
	}
	if got := e.vm.GetGlobal("last_kind"); got != lua.LString("day_started") {
		t.Fatalf("last_kind = %v", got)
	}

	e.OnEvent("bad", nil)
	if logs.FilterMessage("lua on_event error").Len() != 1 {
		t.Fatalf("script error not logged")
	}
	if got := e.vm.GetGlobal("seen"); got != lua.LNumber(2) {
		t.Fatalf("seen = %v, want 2", got)
	}
}

func TestLoadErrorClosesEngine(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "broken.lua"), []byte("function ("), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewEngine(dir, zaptest.NewLogger(t)); err == nil {
		t.Fatalf("expected load error")
	}
}

func TestShippedScriptsLoad(t *testing.T) {
	e, err := NewEngine("../../scripts", zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	defer e.Close()
	if !e.HasFunc("check_end") || !e.HasFunc("on_event") {
		t.Fatalf("shipped hooks missing")
	}
	if over, _ := e.CheckEnd(EndContext{Day: 31}); !over {
		t.Fatalf("shipped check_end should end after day 30")
	}
}
