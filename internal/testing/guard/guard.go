// Package guard holds helpers shared by tests: it flags the process as a
// test run and starts throwaway PostgreSQL instances for integration tests.
package guard

import (
	"os"
	"sync"
	"testing"
)

// IntegrationEnv enables tests that need Docker.
const IntegrationEnv = "TEST_INTEGRATION"

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv("ODYSSEY_TEST_MODE") == "" {
			_ = os.Setenv("ODYSSEY_TEST_MODE", "1")
		}
	})
}

// RequireIntegration skips t unless TEST_INTEGRATION is set.
func RequireIntegration(t testing.TB) {
	t.Helper()
	if os.Getenv(IntegrationEnv) == "" {
		t.Skip("skipping integration test: " + IntegrationEnv + " not set")
	}
}
