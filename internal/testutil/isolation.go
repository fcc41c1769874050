package testutil

import (
	"os"
	"strings"
	"testing"
)

// EnvPrefix is the prefix of every environment variable the kernel reads.
const EnvPrefix = "MAGKERNEL_"

// Isolate snapshots every MAGKERNEL_* environment variable and registers a
// t.Cleanup that restores them, so a test may set them freely. Safe to call
// more than once; restores run LIFO.
func Isolate(t *testing.T) {
	t.Helper()

	snapshot := kernelEnv()
	t.Cleanup(func() {
		for k := range kernelEnv() {
			if _, ok := snapshot[k]; !ok {
				_ = os.Unsetenv(k)
			}
		}
		for k, v := range snapshot {
			_ = os.Setenv(k, v)
		}
	})
}

func kernelEnv() map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if ok && strings.HasPrefix(k, EnvPrefix) {
			out[k] = v
		}
	}
	return out
}
