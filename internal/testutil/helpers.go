package testutil

import (
	"context"
	"testing"
	"time"
)

// TestContext returns a context that expires with a generous test timeout
// and is cancelled on cleanup.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// Ptr returns a pointer to the given value, for optional fields.
func Ptr[T any](v T) *T {
	return &v
}
