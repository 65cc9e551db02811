// Package upstream implements the client side of proxying to a
// pre-existing SSH agent: fresh-connection-per-call requests encoded
// and decoded with this project's own wire/agentproto codec, the same
// way the teacher's main.go dials a single upstream socket per client
// connection (net.Dial("unix", upstreamPath)) — except each operation
// here gets its own short-lived connection rather than one held for the
// life of the client.
package upstream

import (
	"encoding/binary"
	"io"
	"net"
	"time"

	"github.com/tavisrudd/ssh-guard-agent/internal/agentproto"
	"github.com/tavisrudd/ssh-guard-agent/internal/wire"
)

// DialTimeout bounds connecting to the upstream socket.
const DialTimeout = 2 * time.Second

// Proxy forwards identity and sign requests to one upstream agent
// socket captured at startup.
type Proxy struct {
	socketPath string
}

// CapturePath returns the upstream socket path to use, or "" if none
// should be configured: envPath is ignored when it equals either of
// this agent's own socket paths, matching spec.md §4.6's
// startup-ordering requirement (the env var must be captured before
// this agent's own paths are published into it).
func CapturePath(envPath string, ownSocketPaths ...string) string {
	if envPath == "" {
		return ""
	}
	for _, own := range ownSocketPaths {
		if envPath == own {
			return ""
		}
	}
	return envPath
}

// New returns a Proxy for socketPath, or nil if socketPath is empty —
// callers should treat a nil *Proxy as "no upstream configured".
func New(socketPath string) *Proxy {
	if socketPath == "" {
		return nil
	}
	return &Proxy{socketPath: socketPath}
}

func (p *Proxy) dial() (net.Conn, error) {
	return net.DialTimeout("unix", p.socketPath, DialTimeout)
}

// RequestIdentities asks the upstream for its identities. All errors —
// dial failure, wire error, non-IDENTITIES_ANSWER response — resolve to
// an empty list, never a propagated error, since this is always a
// best-effort merge into the handler's own identity list.
func (p *Proxy) RequestIdentities() []agentproto.Identity {
	if p == nil {
		return nil
	}
	conn, err := p.dial()
	if err != nil {
		return nil
	}
	defer conn.Close()

	w := wire.NewWriter()
	w.Composite(func(body *wire.Writer) { body.Byte(agentproto.MsgRequestIdentities) })
	if err := writeFrame(conn, w.Bytes()); err != nil {
		return nil
	}
	body, err := readFrame(conn)
	if err != nil {
		return nil
	}
	resp, ok := decodeIdentitiesAnswer(body)
	if !ok {
		return nil
	}
	return resp
}

// SignRequest forwards a sign request to the upstream and returns the
// produced signature, or nil if anything went wrong or the response
// wasn't a SIGN_RESPONSE.
func (p *Proxy) SignRequest(keyBlob, data []byte, flags uint32) []byte {
	if p == nil {
		return nil
	}
	conn, err := p.dial()
	if err != nil {
		return nil
	}
	defer conn.Close()

	w := wire.NewWriter()
	w.Composite(func(body *wire.Writer) {
		body.Byte(agentproto.MsgSignRequest)
		body.String(keyBlob)
		body.String(data)
		body.Uint32(flags)
	})
	if err := writeFrame(conn, w.Bytes()); err != nil {
		return nil
	}
	body, err := readFrame(conn)
	if err != nil {
		return nil
	}
	r := wire.NewReader(body)
	typ, err := r.Byte()
	if err != nil || typ != agentproto.MsgSignResponse {
		return nil
	}
	sig, err := r.String()
	if err != nil {
		return nil
	}
	return append([]byte(nil), sig...)
}

func writeFrame(conn net.Conn, frame []byte) error {
	_, err := conn.Write(frame)
	return err
}

// readFrame reads one framed message (length prefix plus body) and
// enforces agentproto.MaxFrameLength before allocating the body buffer.
func readFrame(conn net.Conn) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(conn, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > agentproto.MaxFrameLength {
		return nil, agentproto.ErrFrameTooLarge
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(conn, body); err != nil {
		return nil, err
	}
	return body, nil
}

func decodeIdentitiesAnswer(body []byte) ([]agentproto.Identity, bool) {
	r := wire.NewReader(body)
	typ, err := r.Byte()
	if err != nil || typ != agentproto.MsgIdentitiesAnswer {
		return nil, false
	}
	count, err := r.Uint32()
	if err != nil {
		return nil, false
	}
	ids := make([]agentproto.Identity, 0, count)
	for i := uint32(0); i < count; i++ {
		blob, err := r.String()
		if err != nil {
			return nil, false
		}
		comment, err := r.UTF8String()
		if err != nil {
			return nil, false
		}
		ids = append(ids, agentproto.Identity{KeyBlob: append([]byte(nil), blob...), Comment: comment})
	}
	return ids, true
}
