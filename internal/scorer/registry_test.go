package scorer

import (
	"context"
	"testing"

	"github.com/hazyhaar/redline/internal/fault"
)

type stubScorer struct {
	id string
}

func (s *stubScorer) ID() string      { return s.id }
func (s *stubScorer) Version() string { return "stub_v1" }
func (s *stubScorer) Score(context.Context, string) (*Outcome, error) {
	return &Outcome{Kind: KindDetector, Provider: s.id, Score: 1}, nil
}

func stubFactory(id string) Factory {
	return func() Scorer { return &stubScorer{id: id} }
}

func TestRegistryRegistration(t *testing.T) {
	r := NewRegistry()

	if err := r.Register("alpha", stubFactory("alpha")); err != nil {
		t.Fatalf("register alpha: %v", err)
	}
	if err := r.Register("beta", stubFactory("beta")); err != nil {
		t.Fatalf("register beta: %v", err)
	}

	t.Run("DuplicateConflicts", func(t *testing.T) {
		err := r.Register("alpha", stubFactory("alpha"))
		if !fault.Is(err, fault.Conflict) {
			t.Errorf("duplicate register err = %v, want conflict", err)
		}
	})

	t.Run("IsRegistered", func(t *testing.T) {
		if !r.IsRegistered("alpha") {
			t.Error("alpha should be registered")
		}
		if r.IsRegistered("gamma") {
			t.Error("gamma should not be registered")
		}
	})

	t.Run("InsertionOrder", func(t *testing.T) {
		ids := r.ListRegistered()
		if len(ids) != 2 || ids[0] != "alpha" || ids[1] != "beta" {
			t.Errorf("ids = %v, want [alpha beta]", ids)
		}
	})

	t.Run("Metadata", func(t *testing.T) {
		md, err := r.GetMetadata("beta")
		if err != nil {
			t.Fatalf("metadata: %v", err)
		}
		if md.Name != "beta" || md.Version != "stub_v1" {
			t.Errorf("metadata = %+v", md)
		}
	})

	t.Run("Unregister", func(t *testing.T) {
		r.Unregister("alpha")
		if r.IsRegistered("alpha") {
			t.Error("alpha still registered after unregister")
		}
		ids := r.ListRegistered()
		if len(ids) != 1 || ids[0] != "beta" {
			t.Errorf("ids after unregister = %v, want [beta]", ids)
		}
	})
}

func TestRegistryActive(t *testing.T) {
	r := NewRegistry()
	r.Register("first", stubFactory("first"))
	r.Register("second", stubFactory("second"))
	r.Register("third", stubFactory("third"))

	t.Run("ConfigOrderWins", func(t *testing.T) {
		scorers, err := r.Active([]string{"third", "first"})
		if err != nil {
			t.Fatalf("active: %v", err)
		}
		if len(scorers) != 2 || scorers[0].ID() != "third" || scorers[1].ID() != "first" {
			t.Errorf("active order wrong: %v", scorers)
		}
	})

	t.Run("UnknownIDFails", func(t *testing.T) {
		_, err := r.Active([]string{"first", "ghost"})
		if !fault.Is(err, fault.Validation) {
			t.Errorf("unknown id err = %v, want validation", err)
		}
	})

	t.Run("NoConfigNoDefaults", func(t *testing.T) {
		scorers, err := r.Active(nil)
		if err != nil {
			t.Fatalf("active(nil): %v", err)
		}
		if len(scorers) != 0 {
			t.Errorf("active(nil) = %d scorers, want 0", len(scorers))
		}
	})
}
