package serializer

import (
	"testing"

	"go.uber.org/zap"

	"github.com/slimeforge/slimekeep/internal/liveworld"
	"github.com/slimeforge/slimekeep/internal/profile"
)

type fakeFactory struct{ next uint32 }

func (f *fakeFactory) SpawnSlime(tpl string, owner liveworld.EntityID) (*liveworld.Slime, liveworld.EntityID) {
	f.next++
	return &liveworld.Slime{Template: tpl, OwnerID: owner}, liveworld.NewEntityID(f.next, 0)
}

func (f *fakeFactory) SpawnEgg(tpl string, owner liveworld.EntityID) (*liveworld.Egg, liveworld.EntityID) {
	f.next++
	return &liveworld.Egg{Template: tpl, OwnerID: owner}, liveworld.NewEntityID(f.next, 0)
}

func (f *fakeFactory) SpawnTool(tpl string, owner liveworld.EntityID) (*liveworld.Tool, liveworld.EntityID) {
	f.next++
	return &liveworld.Tool{Template: tpl, OwnerID: owner}, liveworld.NewEntityID(f.next, 0)
}

func TestWorldSlimeSerializeDedup(t *testing.T) {
	reg := liveworld.NewRegistry()
	log := zap.NewNop()
	owner := liveworld.OwnerFromUserID(1)

	reg.Slimes.Set(liveworld.NewEntityID(1, 0), owner, &liveworld.Slime{SlimeID: "a", OwnerID: owner})
	reg.Slimes.Set(liveworld.NewEntityID(2, 0), owner, &liveworld.Slime{SlimeID: "a", OwnerID: owner}) // duplicate id

	s := NewWorldSlimeSerializer(reg, &fakeFactory{}, nil, log)
	entries := s.Serialize(1, false)
	if len(entries) != 1 {
		t.Fatalf("expected dedup to leave 1 entry, got %d", len(entries))
	}
}

func TestWorldSlimeRestoreCreatesFromFactory(t *testing.T) {
	reg := liveworld.NewRegistry()
	log := zap.NewNop()
	factory := &fakeFactory{}
	s := NewWorldSlimeSerializer(reg, factory, nil, log)

	entries := []profile.Entry{
		{keySlimeID: "s1", keyTemplate: "basic_slime", keyGrowthProgress: 0.5, keyScale: 1.2},
	}
	s.Restore(7, entries)

	owner := liveworld.OwnerFromUserID(7)
	ids := reg.Slimes.EnumerateByOwner(owner)
	if len(ids) != 1 {
		t.Fatalf("expected 1 live slime after restore, got %d", len(ids))
	}
	sl, _ := reg.Slimes.Get(ids[0])
	if sl.SlimeID != "s1" || sl.GrowthProgress != 0.5 {
		t.Fatalf("restored slime mismatch: %+v", sl)
	}
}

func TestLastSnapshotFallbackOnFinalSerialize(t *testing.T) {
	reg := liveworld.NewRegistry()
	log := zap.NewNop()
	owner := liveworld.OwnerFromUserID(3)
	reg.Slimes.Set(liveworld.NewEntityID(1, 0), owner, &liveworld.Slime{SlimeID: "s1", OwnerID: owner})

	s := NewWorldSlimeSerializer(reg, &fakeFactory{}, nil, log)
	first := s.Serialize(3, false)
	if len(first) != 1 {
		t.Fatalf("expected 1 entry on first serialize, got %d", len(first))
	}

	reg.Slimes.Remove(liveworld.NewEntityID(1, 0), owner)
	final := s.Serialize(3, true)
	if len(final) != 1 {
		t.Fatalf("expected last-snapshot fallback to yield 1 entry, got %d", len(final))
	}
}

func TestColorRoundTrip(t *testing.T) {
	c := liveworld.Color{R: 10, G: 200, B: 255}
	hex := encodeColor(c)
	if hex != "0AC8FF" {
		t.Fatalf("hex = %s, want 0AC8FF", hex)
	}
	decoded, ok := decodeColor(hex)
	if !ok || decoded != c {
		t.Fatalf("decodeColor(%s) = %+v, ok=%v", hex, decoded, ok)
	}
}

func TestEggToolPlaceholderRepair(t *testing.T) {
	reg := liveworld.NewRegistry()
	log := zap.NewNop()
	owner := liveworld.OwnerFromUserID(5)
	reg.Tools.Set(liveworld.NewEntityID(1, 0), owner, &liveworld.Tool{UID: "e1", Placeholder: true})

	factory := &fakeFactory{}
	s := NewEggToolSerializer(reg, factory, nil, log)
	s.Restore(5, []profile.Entry{{keyToolUID: "e1", keyTemplate: "egg_common"}})

	found := s.findByUID(owner, "e1")
	if found == nil {
		t.Fatalf("expected tool e1 to exist after repair")
	}
	if found.Template != "egg_common" {
		t.Fatalf("expected repaired tool to carry template, got %+v", found)
	}
}
