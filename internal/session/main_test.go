package session

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain enables goroutine leak detection for the whole package.
// Catches Memory janitors that outlive their store.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// Docker client connections persist when integration tests run
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
	)
}
