package testutil

import (
	"os"
	"testing"
)

func TestIsolateRestoresKernelEnv(t *testing.T) {
	t.Setenv("MAGKERNEL_LOG_LEVEL", "info")

	t.Run("mutate", func(t *testing.T) {
		Isolate(t)
		_ = os.Setenv("MAGKERNEL_LOG_LEVEL", "debug")
		_ = os.Setenv("MAGKERNEL_ADDED", "1")
		if v := os.Getenv("MAGKERNEL_LOG_LEVEL"); v != "debug" {
			t.Fatalf("expected debug inside, got %s", v)
		}
	})

	if v := os.Getenv("MAGKERNEL_LOG_LEVEL"); v != "info" {
		t.Fatalf("expected MAGKERNEL_LOG_LEVEL=info after restore, got %s", v)
	}
	if _, ok := os.LookupEnv("MAGKERNEL_ADDED"); ok {
		t.Fatalf("MAGKERNEL_ADDED should be unset after restore")
	}
}
