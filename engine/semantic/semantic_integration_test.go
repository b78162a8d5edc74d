//go:build integration

package semantic

import (
	"context"
	"os"
	"testing"
)

func qdrantAddr() string {
	if v := os.Getenv("QDRANT_URL"); v != "" {
		return v
	}
	return "localhost:6334"
}

func TestQdrant_CreateUpsertNearest(t *testing.T) {
	vs, err := New(qdrantAddr(), "test_explanations", 5)
	if err != nil {
		t.Fatalf("connect qdrant: %v", err)
	}
	ctx := context.Background()
	t.Cleanup(func() {
		vs.DeleteCollection(ctx)
		vs.Close()
	})

	idx, err := vs.Create(ctx, 5)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := idx.Upsert(ctx, "42", []float32{63, 1, 233, 150, 0}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := idx.Upsert(ctx, "43", []float32{41, 0, 204, 172, 0}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	hits, err := idx.Nearest(ctx, []float32{40, 0, 200, 170, 0}, 1)
	if err != nil {
		t.Fatalf("Nearest: %v", err)
	}
	if len(hits) != 1 || hits[0].Key != "43" {
		t.Fatalf("hits = %+v", hits)
	}

	if _, err := vs.Open(ctx); err != nil {
		t.Fatalf("Open existing: %v", err)
	}
}
