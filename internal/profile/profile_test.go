package profile

import (
	"path/filepath"
	"testing"
)

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	p := HarnessProfile{
		Name:                "fast-iterate",
		AgentType:           "claude",
		MaxIterations:       25,
		MaxWallClockSeconds: 3600,
		StrategyMode:        "hybrid",
		StrategyConfig:      map[string]any{"maxIterations": 25},
	}
	if err := s.Save(p); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load("fast-iterate")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.AgentType != p.AgentType || got.MaxIterations != p.MaxIterations || got.StrategyMode != p.StrategyMode {
		t.Fatalf("round-tripped profile mismatch: got %+v, want %+v", got, p)
	}
}

func TestStore_LoadMissingReturnsErrNotFound(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if _, err := s.Load("does-not-exist"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStore_SaveRequiresName(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := s.Save(HarnessProfile{}); err == nil {
		t.Fatal("expected error saving a profile with no name")
	}
}

func TestStore_List(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := s.Save(HarnessProfile{Name: "alpha"}); err != nil {
		t.Fatalf("Save alpha: %v", err)
	}
	if err := s.Save(HarnessProfile{Name: "beta"}); err != nil {
		t.Fatalf("Save beta: %v", err)
	}

	names, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("expected 2 profiles, got %d: %v", len(names), names)
	}
}

func TestStore_ListEmptyDirIsNotError(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	names, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(names) != 0 {
		t.Fatalf("expected no profiles, got %v", names)
	}
}

func TestStore_Delete(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	if err := s.Save(HarnessProfile{Name: "gone"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := s.Delete("gone"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Load("gone"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	// Deleting an already-absent profile is not an error.
	if err := s.Delete("gone"); err != nil {
		t.Fatalf("expected idempotent delete, got %v", err)
	}
}

func TestStore_PathSanitizesName(t *testing.T) {
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	p := s.path("weird/name with spaces")
	if filepath.Base(filepath.Dir(p)) != "profiles" {
		t.Fatalf("expected path under profiles/, got %s", p)
	}
}

func TestResolve_FillsZeroValuedFieldsOnly(t *testing.T) {
	p := HarnessProfile{AgentType: "claude", MaxIterations: 20, MaxWallClockSeconds: 1800}

	agentType, maxIter, maxWall := Resolve(p, "", 0, 0)
	if agentType != "claude" || maxIter != 20 || maxWall != 1800 {
		t.Fatalf("expected profile defaults to fill zero values, got (%s, %d, %d)", agentType, maxIter, maxWall)
	}

	agentType, maxIter, maxWall = Resolve(p, "gpt", 5, 60)
	if agentType != "gpt" || maxIter != 5 || maxWall != 60 {
		t.Fatalf("expected explicit values to be preserved, got (%s, %d, %d)", agentType, maxIter, maxWall)
	}
}
