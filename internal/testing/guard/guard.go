// Package guard switches binaries into test mode when imported by a test, so
// that calling main does not open network connections.
package guard

import (
	"os"
	"sync"
)

// EnvVar is the environment variable read by app.InTestMode.
const EnvVar = "SECENGINE_TEST_MODE"

var once sync.Once

func init() {
	once.Do(func() {
		if os.Getenv(EnvVar) == "" {
			_ = os.Setenv(EnvVar, "1")
		}
	})
}
