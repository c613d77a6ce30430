package session

import (
	"context"
	"errors"
	"testing"

	"gridclient/pkg/api"
	"gridclient/pkg/graderr"
	"gridclient/pkg/wire/wiretest"
)

func TestCreateDerivesDefaultPartitionFromOptions(t *testing.T) {
	f := wiretest.New()
	ctx := context.Background()
	sess, err := Create(ctx, f, api.TaskOptions{PartitionID: "gpu"}, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sess.ID() == "" {
		t.Fatal("expected a non-empty session id")
	}
	if got := sess.DefaultOptions().PartitionID; got != "gpu" {
		t.Fatalf("PartitionID = %q, want gpu", got)
	}
}

func TestOpenUnknownSessionIsNotOpenable(t *testing.T) {
	f := wiretest.New()
	_, err := Open(context.Background(), f, "nonexistent", api.TaskOptions{})
	if err == nil {
		t.Fatal("expected an error")
	}
	if !errors.Is(err, graderr.ErrTransportTransient) && graderr.KindOf(err) != graderr.KindSessionNotOpenable {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestOpenRunningSessionSucceeds(t *testing.T) {
	f := wiretest.New()
	ctx := context.Background()
	created, err := Create(ctx, f, api.TaskOptions{}, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	opened, err := Open(ctx, f, created.ID(), api.TaskOptions{MaxRetries: 3})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if opened.ID() != created.ID() {
		t.Fatalf("ID mismatch: %q vs %q", opened.ID(), created.ID())
	}
}

func TestDefaultOptionsCloneDoesNotLeak(t *testing.T) {
	f := wiretest.New()
	sess, _ := Create(context.Background(), f, api.TaskOptions{
		ApplicationMeta: map[string]any{"a": 1},
	}, nil)
	got := sess.DefaultOptions()
	got.ApplicationMeta["a"] = 2
	if sess.DefaultOptions().ApplicationMeta["a"] != 1 {
		t.Fatal("mutating a returned clone must not affect the session's stored defaults")
	}
}
