package correlation

import (
	"context"
	"testing"

	"github.com/oklog/ulid/v2"
)

func TestEnsureCorrelationIDGeneratesOnce(t *testing.T) {
	ctx, first := EnsureCorrelationID(context.Background())
	if _, err := ulid.ParseStrict(first); err != nil {
		t.Fatalf("expected ulid, got %q: %v", first, err)
	}

	_, second := EnsureCorrelationID(ctx)
	if first != second {
		t.Fatalf("expected existing id to be kept, got %q and %q", first, second)
	}
}

func TestContextWithCorrelationIDIgnoresBlank(t *testing.T) {
	ctx := ContextWithCorrelationID(context.Background(), "  ")
	if got := ExtractCorrelationID(ctx); got != "" {
		t.Fatalf("expected empty id, got %q", got)
	}
}
