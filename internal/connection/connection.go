// Package connection implements the per-client connection handler (C8):
// frame extraction from a growing read buffer, dispatch of each parsed
// message to the request handler, and serialized response write-back.
package connection

import (
	"encoding/binary"
	"io"
	"log"
	"net"

	"github.com/tavisrudd/ssh-guard-agent/internal/agentproto"
	"github.com/tavisrudd/ssh-guard-agent/internal/handler"
)

const readChunkSize = 4096

// Dispatcher is the subset of *handler.Handler a connection needs.
type Dispatcher interface {
	Handle(req agentproto.AgentRequest, socketType handler.SocketType) agentproto.AgentResponse
}

// Serve owns conn for its lifetime: it reads frames, dispatches each to
// h, and writes the framed response back, in arrival order. It returns
// when the connection reaches EOF, suffers a read or write error, or
// announces a frame longer than agentproto.MaxFrameLength; the caller is
// responsible for closing conn.
func Serve(conn net.Conn, h Dispatcher, socketType handler.SocketType) {
	var buf []byte
	chunk := make([]byte, readChunkSize)
	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			if err != io.EOF {
				log.Printf("connection: read: %v", err)
			}
			return
		}

		var ok bool
		buf, ok = drainFrames(buf, h, socketType, conn)
		if !ok {
			return
		}
	}
}

// drainFrames extracts and handles every complete frame currently
// buffered, returning the unconsumed remainder. ok is false if a write
// failure or an oversize frame terminated the connection.
func drainFrames(buf []byte, h Dispatcher, socketType handler.SocketType, conn net.Conn) ([]byte, bool) {
	for {
		if len(buf) < 4 {
			return buf, true
		}
		length := binary.BigEndian.Uint32(buf[:4])
		if length > agentproto.MaxFrameLength {
			log.Printf("connection: frame length %d exceeds maximum, dropping connection", length)
			return buf, false
		}
		if uint64(len(buf)) < uint64(4)+uint64(length) {
			return buf, true
		}
		body := buf[4 : 4+length]
		buf = buf[4+length:]

		resp := dispatchOne(body, h, socketType)
		if !writeAll(conn, agentproto.EncodeFrame(resp)) {
			return buf, false
		}
	}
}

func dispatchOne(body []byte, h Dispatcher, socketType handler.SocketType) agentproto.AgentResponse {
	req, err := agentproto.ParseBody(body)
	if err != nil {
		return agentproto.Failure()
	}
	return h.Handle(req, socketType)
}

func writeAll(conn net.Conn, data []byte) bool {
	for len(data) > 0 {
		n, err := conn.Write(data)
		if n <= 0 || err != nil {
			if err != nil {
				log.Printf("connection: write: %v", err)
			}
			return false
		}
		data = data[n:]
	}
	return true
}
