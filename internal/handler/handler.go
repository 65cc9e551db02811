// Package handler implements the request handler (C7): the component
// that dispatches a parsed AgentRequest to the key vault, the
// host-verification pipeline, the session-binding table, the approval
// gate, and the upstream proxy, producing an AgentResponse.
package handler

import (
	"bytes"
	"log"
	"sync/atomic"

	"github.com/tavisrudd/ssh-guard-agent/internal/agentproto"
	"github.com/tavisrudd/ssh-guard-agent/internal/hostverify"
	"github.com/tavisrudd/ssh-guard-agent/internal/knownhosts"
	"github.com/tavisrudd/ssh-guard-agent/internal/pubkey"
	"github.com/tavisrudd/ssh-guard-agent/internal/sessiontable"
	"github.com/tavisrudd/ssh-guard-agent/internal/signer"
	"github.com/tavisrudd/ssh-guard-agent/internal/upstream"
)

// SocketType distinguishes the two listeners: Local connections are
// auto-approved, Forwarded connections pass through the approval gate.
type SocketType int

const (
	Local SocketType = iota
	Forwarded
)

func (s SocketType) String() string {
	switch s {
	case Local:
		return "local"
	case Forwarded:
		return "forwarded"
	default:
		return "unknown"
	}
}

// ApprovalPrompt is the external collaborator that decides whether a
// forwarded-socket sign request proceeds. It must tolerate nil for
// both introspection and hostContext.
type ApprovalPrompt interface {
	Approve(view signer.View, introspection *agentproto.Introspection, hostContext *sessiontable.HostContext) bool
}

// Handler is the shared, concurrency-safe request dispatcher described
// in spec.md §4.7. A Handler is safe to invoke from many connection
// goroutines at once; its private mutable state is the session table,
// which guards itself, and the known_hosts pointer, which SetKnownHosts
// swaps atomically.
type Handler struct {
	vault      signer.KeyVault
	knownHosts atomic.Pointer[knownhosts.Store] // reloadable on SIGHUP, nil-safe
	approval   ApprovalPrompt                   // nil: no approval gate, forwarded sign requests proceed unchecked
	upstream   *upstream.Proxy
	sessions   *sessiontable.Table
}

// New builds a Handler. knownHosts, approval, proxy, and sessions may
// be nil/empty per their documented optionality.
func New(vault signer.KeyVault, knownHosts *knownhosts.Store, approval ApprovalPrompt, proxy *upstream.Proxy, sessions *sessiontable.Table) *Handler {
	if sessions == nil {
		sessions = sessiontable.New()
	}
	h := &Handler{vault: vault, approval: approval, upstream: proxy, sessions: sessions}
	h.knownHosts.Store(knownHosts)
	return h
}

// SetKnownHosts swaps in a freshly reloaded known_hosts store, safe to
// call concurrently with in-flight requests (e.g. from a SIGHUP
// handler), the same way the teacher's main.go swaps its
// atomic.Pointer[KnownHostsResolver] on reload.
func (h *Handler) SetKnownHosts(store *knownhosts.Store) {
	h.knownHosts.Store(store)
}

// Handle dispatches req arriving on a connection of socketType and
// returns the response to frame back to the client.
func (h *Handler) Handle(req agentproto.AgentRequest, socketType SocketType) agentproto.AgentResponse {
	switch req.Kind {
	case agentproto.RequestIdentities:
		return h.handleRequestIdentities()
	case agentproto.RequestSessionBind:
		return h.handleSessionBind(req.Bind)
	case agentproto.RequestSign:
		return h.handleSignRequest(req, socketType)
	default:
		return agentproto.Failure()
	}
}

func (h *Handler) handleRequestIdentities() agentproto.AgentResponse {
	var ids []agentproto.Identity
	if h.vault != nil {
		signers, err := h.vault.ListAllSigners()
		if err != nil {
			log.Printf("handler: vault ListAllSigners: %v", err)
		}
		for _, s := range signers {
			ids = append(ids, agentproto.Identity{KeyBlob: s.PublicKeyBlob(), Comment: s.Comment()})
		}
	}
	if h.upstream != nil {
		ids = append(ids, h.upstream.RequestIdentities()...)
	}
	return agentproto.IdentitiesAnswer(ids)
}

func (h *Handler) handleSessionBind(info agentproto.SessionBindInfo) agentproto.AgentResponse {
	if !hostverify.Verify(info.HostKeyBlob, info.SessionID, info.HostKeySignature) {
		return agentproto.Failure()
	}
	verification := knownhosts.HostVerification{Kind: knownhosts.Unknown, Hostname: info.Hostname}
	if store := h.knownHosts.Load(); store != nil {
		verification = store.Verify(info.Hostname, 22, info.HostKeyBlob)
	}
	h.sessions.Store(info.SessionID, sessiontable.HostContext{
		Hostname:     info.Hostname,
		Verification: convertVerification(verification.Kind),
		IsForwarded:  info.IsForwarded,
	})
	return agentproto.Success()
}

func convertVerification(k knownhosts.VerificationKind) sessiontable.VerificationKind {
	switch k {
	case knownhosts.Verified:
		return sessiontable.Verified
	case knownhosts.Mismatch:
		return sessiontable.Mismatch
	default:
		return sessiontable.Unknown
	}
}

func (h *Handler) handleSignRequest(req agentproto.AgentRequest, socketType SocketType) agentproto.AgentResponse {
	localSigner := h.findLocalSigner(req.KeyBlob)

	var introspectionPtr *agentproto.Introspection
	if info, ok := agentproto.IntrospectSignPayload(req.Data); ok {
		introspectionPtr = &info
	}

	var hostContextPtr *sessiontable.HostContext
	if introspectionPtr != nil {
		if ctx, ok := h.sessions.Lookup(introspectionPtr.SessionID); ok {
			hostContextPtr = &ctx
		}
	}

	if socketType == Forwarded && h.approval != nil {
		var view signer.View
		switch {
		case localSigner != nil:
			view = localSigner
		case h.upstream != nil:
			view = signer.NewProxySignerView(req.KeyBlob, pubkey.Fingerprint(req.KeyBlob))
		}
		if view != nil {
			if !h.approval.Approve(view, introspectionPtr, hostContextPtr) {
				return agentproto.Failure()
			}
		}
	}

	if localSigner != nil {
		sig, err := localSigner.Sign(req.Data)
		if err != nil {
			log.Printf("handler: local sign: %v", err)
			return agentproto.Failure()
		}
		return agentproto.SignResponse(sig)
	}

	if h.upstream != nil {
		if sig := h.upstream.SignRequest(req.KeyBlob, req.Data, req.Flags); sig != nil {
			return agentproto.SignResponse(sig)
		}
		return agentproto.Failure()
	}

	return agentproto.Failure()
}

func (h *Handler) findLocalSigner(keyBlob []byte) signer.Signer {
	if h.vault == nil {
		return nil
	}
	signers, err := h.vault.ListAllSigners()
	if err != nil {
		log.Printf("handler: vault ListAllSigners: %v", err)
		return nil
	}
	for _, s := range signers {
		if bytes.Equal(s.PublicKeyBlob(), keyBlob) {
			return s
		}
	}
	return nil
}
