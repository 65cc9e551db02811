package agentproto

import (
	"bytes"
	"testing"
)

func TestParseBodyRequestIdentities(t *testing.T) {
	req, err := ParseBody([]byte{MsgRequestIdentities})
	if err != nil {
		t.Fatal(err)
	}
	if req.Kind != RequestIdentities {
		t.Errorf("got kind %v, want RequestIdentities", req.Kind)
	}
}

// Scenario 3 from spec.md §8: sign request body parse.
func TestParseBodySignRequestLiteral(t *testing.T) {
	body := []byte{
		0x0D,
		0x00, 0x00, 0x00, 0x03, 0x01, 0x02, 0x03,
		0x00, 0x00, 0x00, 0x02, 0x04, 0x05,
		0x00, 0x00, 0x00, 0x00,
	}
	req, err := ParseBody(body)
	if err != nil {
		t.Fatal(err)
	}
	if req.Kind != RequestSign {
		t.Fatalf("got kind %v, want RequestSign", req.Kind)
	}
	if !bytes.Equal(req.KeyBlob, []byte{1, 2, 3}) {
		t.Errorf("key_blob = %v", req.KeyBlob)
	}
	if !bytes.Equal(req.Data, []byte{4, 5}) {
		t.Errorf("data = %v", req.Data)
	}
	if req.Flags != 0 {
		t.Errorf("flags = %d", req.Flags)
	}
}

func TestParseBodyUnknownExtension(t *testing.T) {
	w := buildExtensionBody(t, "some-other@example.com", nil)
	req, err := ParseBody(w)
	if err != nil {
		t.Fatal(err)
	}
	if req.Kind != RequestUnknown || req.UnknownType != MsgExtension {
		t.Errorf("got %+v, want Unknown(27)", req)
	}
}

func TestParseBodySessionBind(t *testing.T) {
	fields := sessionBindFields{
		hostname:    "myserver.example.com",
		hostKeyBlob: []byte{0xAA, 0xBB},
		sessionID:   []byte{1, 2, 3, 4},
		signature:   []byte{5, 6, 7, 8},
		isForwarded: true,
	}
	body := buildExtensionBody(t, SessionBindExtensionName, &fields)
	req, err := ParseBody(body)
	if err != nil {
		t.Fatal(err)
	}
	if req.Kind != RequestSessionBind {
		t.Fatalf("got kind %v, want RequestSessionBind", req.Kind)
	}
	if req.Bind.Hostname != fields.hostname {
		t.Errorf("hostname = %q", req.Bind.Hostname)
	}
	if !bytes.Equal(req.Bind.HostKeyBlob, fields.hostKeyBlob) {
		t.Errorf("host_key_blob = %v", req.Bind.HostKeyBlob)
	}
	if !bytes.Equal(req.Bind.SessionID, fields.sessionID) {
		t.Errorf("session_id = %v", req.Bind.SessionID)
	}
	if !bytes.Equal(req.Bind.HostKeySignature, fields.signature) {
		t.Errorf("signature = %v", req.Bind.HostKeySignature)
	}
	if !req.Bind.IsForwarded {
		t.Errorf("is_forwarded = false, want true")
	}
}

func TestParseBodyUnknownType(t *testing.T) {
	req, err := ParseBody([]byte{20})
	if err != nil {
		t.Fatal(err)
	}
	if req.Kind != RequestUnknown || req.UnknownType != 20 {
		t.Errorf("got %+v, want Unknown(20)", req)
	}
}

// Scenario 1 from spec.md §8: empty identities over local socket.
func TestEncodeFrameEmptyIdentitiesAnswer(t *testing.T) {
	frame := EncodeFrame(IdentitiesAnswer(nil))
	want := []byte{0x00, 0x00, 0x00, 0x05, 0x0C, 0x00, 0x00, 0x00, 0x00}
	if !bytes.Equal(frame, want) {
		t.Errorf("got % X, want % X", frame, want)
	}
}

// Scenario 2 from spec.md §8: serialize one identity.
func TestEncodeFrameOneIdentity(t *testing.T) {
	frame := EncodeFrame(IdentitiesAnswer([]Identity{
		{KeyBlob: []byte{0xAA, 0xBB}, Comment: "test"},
	}))
	want := []byte{
		0x00, 0x00, 0x00, 0x12,
		0x0C,
		0x00, 0x00, 0x00, 0x01,
		0x00, 0x00, 0x00, 0x02, 0xAA, 0xBB,
		0x00, 0x00, 0x00, 0x04, 0x74, 0x65, 0x73, 0x74,
	}
	if !bytes.Equal(frame, want) {
		t.Errorf("got % X, want % X", frame, want)
	}
}

func TestEncodeFrameFailureSuccess(t *testing.T) {
	if got := EncodeFrame(Failure()); !bytes.Equal(got, []byte{0, 0, 0, 1, MsgFailure}) {
		t.Errorf("Failure frame = % X", got)
	}
	if got := EncodeFrame(Success()); !bytes.Equal(got, []byte{0, 0, 0, 1, MsgSuccess}) {
		t.Errorf("Success frame = % X", got)
	}
}

func TestEncodeFrameSignResponse(t *testing.T) {
	frame := EncodeFrame(SignResponse([]byte{0x01, 0x02}))
	want := []byte{0x00, 0x00, 0x00, 0x07, 0x0E, 0x00, 0x00, 0x00, 0x02, 0x01, 0x02}
	if !bytes.Equal(frame, want) {
		t.Errorf("got % X, want % X", frame, want)
	}
}

func TestIntrospectSignPayloadValid(t *testing.T) {
	data := buildUserauthPublickeyPayload(t, []byte{9, 9, 9}, "alice", "ssh-connection", "ssh-ed25519", []byte{1, 2, 3, 4})
	info, ok := IntrospectSignPayload(data)
	if !ok {
		t.Fatal("expected introspection to succeed")
	}
	if info.Username != "alice" || info.Algorithm != "ssh-ed25519" {
		t.Errorf("got %+v", info)
	}
	if !bytes.Equal(info.SessionID, []byte{9, 9, 9}) {
		t.Errorf("session_id = %v", info.SessionID)
	}
}

func TestIntrospectSignPayloadWrongMethod(t *testing.T) {
	w := newTestWriter()
	w.String([]byte{1})
	w.Byte(sshMsgUserauthRequest)
	w.UTF8String("alice")
	w.UTF8String("ssh-connection")
	w.UTF8String("password")
	_, ok := IntrospectSignPayload(w.Bytes())
	if ok {
		t.Error("expected introspection to fail for non-publickey method")
	}
}

func TestIntrospectSignPayloadGarbage(t *testing.T) {
	_, ok := IntrospectSignPayload([]byte{1, 2, 3})
	if ok {
		t.Error("expected introspection to fail on garbage input")
	}
}

func FuzzParseBody(f *testing.F) {
	f.Add([]byte{MsgRequestIdentities})
	f.Add([]byte{MsgSignRequest, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0})
	f.Add([]byte{MsgExtension, 0, 0, 0, 0})
	f.Add([]byte{})
	f.Fuzz(func(t *testing.T, body []byte) {
		_, _ = ParseBody(body)
	})
}
