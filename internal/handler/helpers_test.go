package handler

import (
	"testing"

	"github.com/tavisrudd/ssh-guard-agent/internal/upstream"
	"github.com/tavisrudd/ssh-guard-agent/internal/wire"
)

func newAgentProtoWriterForTest() *wire.Writer { return wire.NewWriter() }

// upstreamProxyForTest returns a non-nil *upstream.Proxy pointed at a
// socket that need not be listening: tests that exercise it only need
// to observe that the handler treats "upstream configured" as true,
// not that a live signature round-trips through it.
func upstreamProxyForTest(t *testing.T) *upstream.Proxy {
	t.Helper()
	return upstream.New(t.TempDir() + "/unused-upstream.sock")
}
