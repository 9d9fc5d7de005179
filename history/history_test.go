package history

import (
	"context"
	"fmt"
	"testing"
)

func TestThreadIsolation(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.Append(ctx, "hilo-a", Turn{Question: "¿qué aval?", Answer: "5%"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Append(ctx, "hilo-b", Turn{Question: "¿qué plazo?", Answer: "18 meses"}); err != nil {
		t.Fatal(err)
	}

	a, err := s.Recent(ctx, "hilo-a", DefaultWindow)
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != 1 || a[0].Question != "¿qué aval?" {
		t.Errorf("hilo-a = %+v", a)
	}

	b, _ := s.Recent(ctx, "hilo-b", DefaultWindow)
	if len(b) != 1 || b[0].Answer != "18 meses" {
		t.Errorf("hilo-b = %+v", b)
	}
}

func TestRecentWindowOldestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for i := 1; i <= 8; i++ {
		if err := s.Append(ctx, "hilo", Turn{Question: fmt.Sprintf("pregunta %d", i)}); err != nil {
			t.Fatal(err)
		}
	}

	turns, err := s.Recent(ctx, "hilo", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(turns) != 5 {
		t.Fatalf("got %d turns, want 5", len(turns))
	}
	if turns[0].Question != "pregunta 4" || turns[4].Question != "pregunta 8" {
		t.Errorf("window = %q .. %q", turns[0].Question, turns[4].Question)
	}
}

func TestRetentionBound(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for i := 0; i < maxRetained+10; i++ {
		if err := s.Append(ctx, "hilo", Turn{Question: fmt.Sprintf("p%d", i)}); err != nil {
			t.Fatal(err)
		}
	}
	turns, _ := s.Recent(ctx, "hilo", maxRetained*2)
	if len(turns) != maxRetained {
		t.Errorf("retained %d turns, want %d", len(turns), maxRetained)
	}
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	s.Append(ctx, "hilo", Turn{Question: "p"})
	if err := s.Clear(ctx, "hilo"); err != nil {
		t.Fatal(err)
	}
	turns, _ := s.Recent(ctx, "hilo", 5)
	if len(turns) != 0 {
		t.Errorf("turns after clear: %+v", turns)
	}
}
