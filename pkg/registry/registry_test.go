package registry

import (
	"testing"

	"gridclient/pkg/api"
)

func TestRegisterAndTakeRemovesEntry(t *testing.T) {
	r := New()
	var got []byte
	r.Register("r1", "t1", api.InvocationHandler{
		OnResponse: func(payload []byte, taskID string) { got = payload },
	})

	taskID, h, ok := r.Take("r1")
	if !ok {
		t.Fatal("expected handler to be present")
	}
	if taskID != "t1" {
		t.Fatalf("taskID = %q, want t1", taskID)
	}
	h.OnResponse([]byte("hello"), taskID)
	if string(got) != "hello" {
		t.Fatalf("got %q", got)
	}

	if _, _, ok := r.Take("r1"); ok {
		t.Fatal("handler should have been removed after Take")
	}
}

func TestTakeMissingIsNotOK(t *testing.T) {
	r := New()
	if _, _, ok := r.Take("nope"); ok {
		t.Fatal("expected ok=false")
	}
}

func TestIDsReflectsPending(t *testing.T) {
	r := New()
	r.Register("a", "ta", api.InvocationHandler{})
	r.Register("b", "tb", api.InvocationHandler{})
	if r.Len() != 2 {
		t.Fatalf("Len = %d, want 2", r.Len())
	}
	ids := r.IDs()
	if len(ids) != 2 {
		t.Fatalf("IDs len = %d, want 2", len(ids))
	}
	r.Take("a")
	if r.Len() != 1 {
		t.Fatalf("Len after Take = %d, want 1", r.Len())
	}
}

func TestPurgeClearsWithoutInvoking(t *testing.T) {
	r := New()
	invoked := false
	r.Register("a", "ta", api.InvocationHandler{OnResponse: func([]byte, string) { invoked = true }})
	r.Purge()
	if r.Len() != 0 {
		t.Fatalf("Len after Purge = %d, want 0", r.Len())
	}
	if invoked {
		t.Fatal("Purge must not invoke handlers")
	}
}
