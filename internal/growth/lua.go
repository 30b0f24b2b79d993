package growth

import (
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"

	"github.com/slimeforge/slimekeep/internal/liveworld"
)

// MutationHook is invoked when a live entity crosses a fixed growth
// progress bucket (§4.E "a mutation hook is invoked (external, not
// specified here)"). Grounded on the teacher's scripting.Engine
// (internal/scripting/engine.go): a single gopher-lua VM, global Lua
// functions called by name, nil-safe if the function isn't defined.
type MutationHook struct {
	vm  *lua.LState
	log *zap.Logger
}

// NewMutationHook loads every .lua file in dir into a fresh VM. A
// missing directory is not an error — the hook becomes a no-op.
func NewMutationHook(dir string, log *zap.Logger) (*MutationHook, error) {
	vm := lua.NewState(lua.Options{SkipOpenLibs: false})
	h := &MutationHook{vm: vm, log: log}
	if err := h.loadDir(dir); err != nil {
		vm.Close()
		return nil, err
	}
	return h, nil
}

func (h *MutationHook) loadDir(dir string) error {
	return loadLuaDir(h.vm, dir, h.log)
}

// OnBucketCrossed calls the Lua global on_growth_bucket(ctx) if defined,
// optionally returning a new body color to apply.
func (h *MutationHook) OnBucketCrossed(sl *liveworld.Slime, bucket int) {
	fn := h.vm.GetGlobal("on_growth_bucket")
	if fn == lua.LNil {
		return
	}

	t := h.vm.NewTable()
	t.RawSetString("slime_id", lua.LString(sl.SlimeID))
	t.RawSetString("bucket", lua.LNumber(bucket))
	t.RawSetString("progress", lua.LNumber(sl.GrowthProgress))
	t.RawSetString("tier", lua.LNumber(sl.Tier))
	t.RawSetString("rarity", lua.LNumber(sl.Rarity))

	if err := h.vm.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, t); err != nil {
		h.log.Error("lua on_growth_bucket error", zap.String("slimeId", sl.SlimeID), zap.Error(err))
		return
	}

	result := h.vm.Get(-1)
	h.vm.Pop(1)
	rt, ok := result.(*lua.LTable)
	if !ok {
		return
	}
	if hex := rt.RawGetString("body_color"); hex != lua.LNil {
		if s := lua.LVAsString(hex); s != "" {
			if r, g, b, ok := decodeColorHexLocal(s); ok {
				sl.BodyColor = liveworld.Color{R: r, G: g, B: b}
			}
		}
	}
}

func (h *MutationHook) Close() { h.vm.Close() }
