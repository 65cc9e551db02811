package auditlog

import (
	"github.com/tavisrudd/ssh-guard-agent/internal/agentproto"
	"github.com/tavisrudd/ssh-guard-agent/internal/sessiontable"
	"github.com/tavisrudd/ssh-guard-agent/internal/signer"
)

// ApprovalPrompt is the subset of handler.ApprovalPrompt this package
// wraps, restated here to avoid an import cycle (handler would
// otherwise need to import auditlog's handler-shaped decorator).
type ApprovalPrompt interface {
	Approve(view signer.View, introspection *agentproto.Introspection, hostContext *sessiontable.HostContext) bool
}

// RecordingPrompt wraps an ApprovalPrompt, recording every decision —
// approved or denied — to the audit log before returning it to the
// caller.
type RecordingPrompt struct {
	Inner ApprovalPrompt
	Log   *Log
}

// Wrap returns prompt decorated with audit logging against l. If
// prompt is nil, the forwarded-socket gate the handler applies is
// itself a no-op, so Wrap returns nil rather than logging requests
// that were never gated.
func Wrap(prompt ApprovalPrompt, l *Log) ApprovalPrompt {
	if prompt == nil {
		return nil
	}
	return &RecordingPrompt{Inner: prompt, Log: l}
}

func (r *RecordingPrompt) Approve(view signer.View, introspection *agentproto.Introspection, hostContext *sessiontable.HostContext) bool {
	approved := r.Inner.Approve(view, introspection, hostContext)
	r.Log.Record(view, introspection, hostContext, approved)
	return approved
}
