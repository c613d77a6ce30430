package taskmap

import (
	"errors"
	"sync"
	"testing"

	"gridclient/pkg/graderr"
)

func TestPutGetRoundtrip(t *testing.T) {
	m := New()
	m.Put("task-1", "result-1")
	got, ok := m.Get("task-1")
	if !ok || got != "result-1" {
		t.Fatalf("Get = (%q, %v), want (result-1, true)", got, ok)
	}
}

func TestGetMissingIsNotOK(t *testing.T) {
	m := New()
	if _, ok := m.Get("nope"); ok {
		t.Fatal("expected ok=false for unrecorded task id")
	}
}

func TestResolveTranslatesAll(t *testing.T) {
	m := New()
	m.Put("a", "ra")
	m.Put("b", "rb")
	got, err := m.Resolve([]string{"a", "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"ra", "rb"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestResolveFailsFastOnUnknownDependency(t *testing.T) {
	m := New()
	m.Put("a", "ra")
	_, err := m.Resolve([]string{"a", "missing"})
	if err == nil {
		t.Fatal("expected DependencyUnknown error")
	}
	if graderr.KindOf(err) != graderr.KindDependencyUnknown {
		t.Fatalf("kind = %v, want DependencyUnknown", graderr.KindOf(err))
	}
	if !errors.Is(err, graderr.ErrDependencyUnknown) {
		t.Fatal("errors.Is should match the DependencyUnknown sentinel")
	}
}

func TestConcurrentPutAndGet(t *testing.T) {
	m := New()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m.Put(string(rune('a'+i%26)), "r")
		}(i)
	}
	wg.Wait()
	if m.Len() == 0 {
		t.Fatal("expected some entries after concurrent writes")
	}
}
