package liveworld

import "context"

// TagReparenter is the default stage.Reparenter: it models container
// membership as an Extra tag on the live Tool rather than an actual
// instance-parent call, since this repository has no concrete scene
// graph of its own. Grounded on the teacher's doll system
// (internal/system/doll.go), which likewise tracks temporary custody as
// a flag on the live instance rather than a structural move.
type TagReparenter struct {
	registry *Registry
}

func NewTagReparenter(registry *Registry) *TagReparenter {
	return &TagReparenter{registry: registry}
}

func (r *TagReparenter) ReparentToHolding(ctx context.Context, toolID EntityID) error {
	tool, ok := r.registry.Tools.Get(toolID)
	if !ok {
		return nil
	}
	if tool.Extra == nil {
		tool.Extra = make(map[string]any)
	}
	tool.Extra["Container"] = "holding"
	return nil
}

func (r *TagReparenter) ReparentToBackpack(ctx context.Context, toolID, owner EntityID) error {
	tool, ok := r.registry.Tools.Get(toolID)
	if !ok {
		return nil
	}
	if tool.Extra == nil {
		tool.Extra = make(map[string]any)
	}
	tool.Extra["Container"] = "backpack"
	tool.OwnerID = owner
	return nil
}
