package app

import (
	"os"
	"strconv"
	"sync"
	"sync/atomic"
)

// TestModeEnv names the variable that keeps the binaries from opening
// database or Redis connections.
const TestModeEnv = "EQUIPRENT_TEST_MODE"

var testMode struct {
	once sync.Once
	on   atomic.Bool
}

func detectTestMode() {
	on, err := strconv.ParseBool(os.Getenv(TestModeEnv))
	testMode.on.Store(err == nil && on)
}

// InTestMode reports whether the application should skip runtime side
// effects. The variable is read once per process.
func InTestMode() bool {
	testMode.once.Do(detectTestMode)
	return testMode.on.Load()
}

// RefreshTestMode re-reads the variable after the environment changed.
func RefreshTestMode() {
	testMode.once.Do(func() {})
	detectTestMode()
}
