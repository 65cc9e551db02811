// Package agentproto implements the typed request/response layer of the
// SSH agent wire protocol on top of internal/wire's primitive codec: the
// message type codes, the fixed set of recognized message bodies, and
// the session-bind@pl.loee extension.
package agentproto

import (
	"errors"
	"fmt"

	"github.com/tavisrudd/ssh-guard-agent/internal/wire"
)

// Message type codes, from the SSH agent protocol.
const (
	MsgFailure            = 5
	MsgSuccess            = 6
	MsgRequestIdentities  = 11
	MsgIdentitiesAnswer   = 12
	MsgSignRequest        = 13
	MsgSignResponse       = 14
	MsgExtension          = 27
)

// SessionBindExtensionName is the only extension name this agent
// recognizes; any other name under type 27 parses as Unknown(27).
const SessionBindExtensionName = "session-bind@pl.loee"

// MaxFrameLength is the ceiling on any single framed message body, on
// both ingress and upstream responses. Oversize frames are rejected
// before allocation.
const MaxFrameLength = 256 * 1024

var ErrFrameTooLarge = errors.New("agentproto: frame exceeds maximum length")

// RequestKind tags the AgentRequest union.
type RequestKind int

const (
	RequestIdentities RequestKind = iota
	RequestSign
	RequestSessionBind
	RequestUnknown
)

// AgentRequest is the tagged union of client requests the handler
// dispatches on. Only the fields relevant to Kind are populated.
type AgentRequest struct {
	Kind RequestKind

	// RequestSign
	KeyBlob []byte
	Data    []byte
	Flags   uint32

	// RequestSessionBind
	Bind SessionBindInfo

	// RequestUnknown
	UnknownType byte
}

// SessionBindInfo is the payload of the session-bind@pl.loee extension.
type SessionBindInfo struct {
	Hostname          string
	HostKeyBlob       []byte
	SessionID         []byte
	HostKeySignature  []byte
	IsForwarded       bool
}

// Identity is one entry of an IdentitiesAnswer response.
type Identity struct {
	KeyBlob []byte
	Comment string
}

// ResponseKind tags the AgentResponse union.
type ResponseKind int

const (
	ResponseFailure ResponseKind = iota
	ResponseSuccess
	ResponseIdentitiesAnswer
	ResponseSign
)

// AgentResponse is the tagged union of responses the handler produces.
type AgentResponse struct {
	Kind       ResponseKind
	Identities []Identity
	Signature  []byte
}

// Failure and Success are the two fixed no-payload responses.
func Failure() AgentResponse { return AgentResponse{Kind: ResponseFailure} }
func Success() AgentResponse { return AgentResponse{Kind: ResponseSuccess} }

// IdentitiesAnswer builds an AgentResponse carrying the given identities,
// preserving order; no dedup is performed.
func IdentitiesAnswer(ids []Identity) AgentResponse {
	return AgentResponse{Kind: ResponseIdentitiesAnswer, Identities: ids}
}

// SignResponse builds an AgentResponse carrying a produced signature.
func SignResponse(sig []byte) AgentResponse {
	return AgentResponse{Kind: ResponseSign, Signature: sig}
}

// ParseBody parses the post-frame body of one message: the type byte
// followed by whatever fields that type requires. It never panics on
// malformed input; any wire error surfaces as a returned error, which
// callers should translate into a Failure response without killing the
// connection.
func ParseBody(body []byte) (AgentRequest, error) {
	r := wire.NewReader(body)
	typ, err := r.Byte()
	if err != nil {
		return AgentRequest{}, fmt.Errorf("agentproto: reading type byte: %w", err)
	}
	switch typ {
	case MsgRequestIdentities:
		return AgentRequest{Kind: RequestIdentities}, nil
	case MsgSignRequest:
		keyBlob, err := r.String()
		if err != nil {
			return AgentRequest{}, fmt.Errorf("agentproto: sign request key_blob: %w", err)
		}
		data, err := r.String()
		if err != nil {
			return AgentRequest{}, fmt.Errorf("agentproto: sign request data: %w", err)
		}
		flags, err := r.Uint32()
		if err != nil {
			return AgentRequest{}, fmt.Errorf("agentproto: sign request flags: %w", err)
		}
		return AgentRequest{
			Kind:    RequestSign,
			KeyBlob: append([]byte(nil), keyBlob...),
			Data:    append([]byte(nil), data...),
			Flags:   flags,
		}, nil
	case MsgExtension:
		name, err := r.String()
		if err != nil {
			return AgentRequest{}, fmt.Errorf("agentproto: extension name: %w", err)
		}
		if string(name) != SessionBindExtensionName {
			return AgentRequest{Kind: RequestUnknown, UnknownType: MsgExtension}, nil
		}
		hostname, err := r.UTF8String()
		if err != nil {
			return AgentRequest{}, fmt.Errorf("agentproto: session-bind hostname: %w", err)
		}
		hostKeyBlob, err := r.String()
		if err != nil {
			return AgentRequest{}, fmt.Errorf("agentproto: session-bind host_key_blob: %w", err)
		}
		sessionID, err := r.String()
		if err != nil {
			return AgentRequest{}, fmt.Errorf("agentproto: session-bind session_id: %w", err)
		}
		sig, err := r.String()
		if err != nil {
			return AgentRequest{}, fmt.Errorf("agentproto: session-bind signature: %w", err)
		}
		isForwarded, err := r.Bool()
		if err != nil {
			return AgentRequest{}, fmt.Errorf("agentproto: session-bind is_forwarded: %w", err)
		}
		return AgentRequest{
			Kind: RequestSessionBind,
			Bind: SessionBindInfo{
				Hostname:         hostname,
				HostKeyBlob:      append([]byte(nil), hostKeyBlob...),
				SessionID:        append([]byte(nil), sessionID...),
				HostKeySignature: append([]byte(nil), sig...),
				IsForwarded:      isForwarded,
			},
		}, nil
	default:
		return AgentRequest{Kind: RequestUnknown, UnknownType: typ}, nil
	}
}

// EncodeFrame serializes resp's body and wraps it with a uint32 length
// prefix, ready to write to a connection.
func EncodeFrame(resp AgentResponse) []byte {
	w := wire.NewWriter()
	w.Composite(func(body *wire.Writer) {
		encodeBody(body, resp)
	})
	return w.Bytes()
}

func encodeBody(body *wire.Writer, resp AgentResponse) {
	switch resp.Kind {
	case ResponseFailure:
		body.Byte(MsgFailure)
	case ResponseSuccess:
		body.Byte(MsgSuccess)
	case ResponseIdentitiesAnswer:
		body.Byte(MsgIdentitiesAnswer)
		body.Uint32(uint32(len(resp.Identities)))
		for _, id := range resp.Identities {
			body.String(id.KeyBlob)
			body.UTF8String(id.Comment)
		}
	case ResponseSign:
		body.Byte(MsgSignResponse)
		body.String(resp.Signature)
	}
}

// Introspection is the advisory, best-effort decode of a SIGN_REQUEST's
// data field as an SSH_MSG_USERAUTH_REQUEST publickey payload. A failed
// introspection is not an error condition for the caller — signing
// proceeds regardless.
type Introspection struct {
	SessionID    []byte
	Username     string
	Service      string
	Algorithm    string
	PubkeyBlob   []byte
}

const sshMsgUserauthRequest = 50

// IntrospectSignPayload attempts to parse data as a publickey userauth
// request payload. ok is false on any deviation — the caller must treat
// that as "not a publickey userauth payload", not as an error.
func IntrospectSignPayload(data []byte) (info Introspection, ok bool) {
	r := wire.NewReader(data)
	sessionID, err := r.String()
	if err != nil {
		return Introspection{}, false
	}
	typ, err := r.Byte()
	if err != nil || typ != sshMsgUserauthRequest {
		return Introspection{}, false
	}
	username, err := r.UTF8String()
	if err != nil {
		return Introspection{}, false
	}
	service, err := r.UTF8String()
	if err != nil {
		return Introspection{}, false
	}
	method, err := r.UTF8String()
	if err != nil || method != "publickey" {
		return Introspection{}, false
	}
	if _, err := r.Bool(); err != nil {
		return Introspection{}, false
	}
	algorithm, err := r.UTF8String()
	if err != nil {
		return Introspection{}, false
	}
	pubkeyBlob, err := r.String()
	if err != nil {
		return Introspection{}, false
	}
	return Introspection{
		SessionID:  append([]byte(nil), sessionID...),
		Username:   username,
		Service:    service,
		Algorithm:  algorithm,
		PubkeyBlob: append([]byte(nil), pubkeyBlob...),
	}, true
}
