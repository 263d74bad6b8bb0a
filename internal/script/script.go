// Package script binds Lua files as capability handlers. A file named
// <platform>.<function>.lua in the scripts directory must define a global
// invoke(args) function; each invocation runs in a fresh interpreter state
// so scripts cannot leak state between calls.
package script

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/openrelay/openrelay/internal/capability"
)

// BindScripts scans dir for *.lua files and binds each one whose
// platform.function name is declared in the registry's descriptor
// document. Scripts for undeclared functions are logged and skipped.
func BindScripts(reg *capability.Registry, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading scripts dir %s: %w", dir, err)
	}

	doc := reg.Document()
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".lua") {
			continue
		}
		platform, function, ok := splitScriptName(entry.Name())
		if !ok {
			log.Printf("script: ignoring %s: name must be <platform>.<function>.lua", entry.Name())
			continue
		}
		if _, declared := doc.Find(platform, function); !declared {
			log.Printf("script: ignoring %s: %s.%s not declared in descriptor", entry.Name(), platform, function)
			continue
		}
		h := &Handler{path: filepath.Join(dir, entry.Name())}
		if err := reg.Bind(platform, function, h); err != nil {
			return fmt.Errorf("binding script %s: %w", entry.Name(), err)
		}
		log.Printf("script: bound %s.%s -> %s", platform, function, entry.Name())
	}
	return nil
}

func splitScriptName(name string) (platform, function string, ok bool) {
	base := strings.TrimSuffix(name, ".lua")
	parts := strings.Split(base, ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// Handler runs one Lua script. The script is loaded per invocation.
type Handler struct {
	path string
}

func NewHandler(path string) *Handler {
	return &Handler{path: path}
}

// Invoke loads the script and calls its global invoke(args) function. The
// return value may be a string, a number, a boolean, or a table.
func (h *Handler) Invoke(ctx context.Context, args map[string]any) (any, error) {
	lState := lua.NewState()
	defer lState.Close()
	lState.SetContext(ctx)

	lState.PreloadModule("os", osModuleLoader)

	absPath, err := filepath.Abs(h.path)
	if err != nil {
		return nil, fmt.Errorf("script path: %w", err)
	}
	if err := lState.DoFile(absPath); err != nil {
		return nil, fmt.Errorf("load script: %w", err)
	}

	fn := lState.GetGlobal("invoke")
	if fn.Type() == lua.LTNil {
		return nil, fmt.Errorf("script must define global function invoke(args)")
	}
	if fn.Type() != lua.LTFunction {
		return nil, fmt.Errorf("invoke must be a function, got %s", fn.Type().String())
	}

	lState.Push(fn)
	lState.Push(goToLua(lState, args))
	if err := lState.PCall(1, 1, nil); err != nil {
		return nil, fmt.Errorf("invoke(): %w", err)
	}

	ret := lState.Get(-1)
	lState.Pop(1)
	return luaToGo(ret), nil
}

func goToLua(lState *lua.LState, v any) lua.LValue {
	switch val := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(val)
	case string:
		return lua.LString(val)
	case float64:
		return lua.LNumber(val)
	case int:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case []any:
		tbl := lState.NewTable()
		for _, item := range val {
			tbl.Append(goToLua(lState, item))
		}
		return tbl
	case map[string]any:
		tbl := lState.NewTable()
		for k, item := range val {
			lState.SetField(tbl, k, goToLua(lState, item))
		}
		return tbl
	default:
		return lua.LString(fmt.Sprint(val))
	}
}

func luaToGo(v lua.LValue) any {
	switch val := v.(type) {
	case *lua.LNilType:
		return nil
	case lua.LBool:
		return bool(val)
	case lua.LString:
		return string(val)
	case lua.LNumber:
		return float64(val)
	case *lua.LTable:
		// A table with sequential numeric keys becomes a slice,
		// anything else a map.
		if n := val.MaxN(); n > 0 {
			out := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				out = append(out, luaToGo(val.RawGetInt(i)))
			}
			return out
		}
		out := make(map[string]any)
		val.ForEach(func(k, item lua.LValue) {
			out[k.String()] = luaToGo(item)
		})
		return out
	default:
		return val.String()
	}
}

// osModuleLoader provides a minimal os module: getenv and time.
func osModuleLoader(lState *lua.LState) int {
	mod := lState.NewTable()
	lState.SetField(mod, "getenv", lState.NewFunction(func(ls *lua.LState) int {
		key := ls.CheckString(1)
		ls.Push(lua.LString(os.Getenv(key)))
		return 1
	}))
	lState.SetField(mod, "time", lState.NewFunction(func(ls *lua.LState) int {
		ls.Push(lua.LNumber(time.Now().Unix()))
		return 1
	}))
	lState.Push(mod)
	return 1
}
