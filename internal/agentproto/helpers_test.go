package agentproto

import (
	"testing"

	"github.com/tavisrudd/ssh-guard-agent/internal/wire"
)

func newTestWriter() *wire.Writer { return wire.NewWriter() }

type sessionBindFields struct {
	hostname    string
	hostKeyBlob []byte
	sessionID   []byte
	signature   []byte
	isForwarded bool
}

func buildExtensionBody(t *testing.T, name string, fields *sessionBindFields) []byte {
	t.Helper()
	w := newTestWriter()
	w.Byte(MsgExtension)
	w.String([]byte(name))
	if fields != nil {
		w.UTF8String(fields.hostname)
		w.String(fields.hostKeyBlob)
		w.String(fields.sessionID)
		w.String(fields.signature)
		w.Bool(fields.isForwarded)
	}
	return w.Bytes()
}

func buildUserauthPublickeyPayload(t *testing.T, sessionID []byte, username, service, algorithm string, pubkeyBlob []byte) []byte {
	t.Helper()
	w := newTestWriter()
	w.String(sessionID)
	w.Byte(sshMsgUserauthRequest)
	w.UTF8String(username)
	w.UTF8String(service)
	w.UTF8String("publickey")
	w.Bool(true)
	w.UTF8String(algorithm)
	w.String(pubkeyBlob)
	return w.Bytes()
}
