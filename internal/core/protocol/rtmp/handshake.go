package rtmp

import (
	"crypto/rand"
	"encoding/binary"
	"io"
	"time"

	"github.com/pkg/errors"
)

var ErrInvalidVersion = errors.New("invalid RTMP version")

// ServerHandshake performs the server side of the simple RTMP handshake:
// read C0/C1, send S0/S1/S2, read C2.
func ServerHandshake(conn io.ReadWriter) error {
	c0c1 := make([]byte, HandshakeC0C1Size)
	if _, err := io.ReadFull(conn, c0c1); err != nil {
		return errors.Wrap(err, "read C0C1")
	}
	if c0c1[0] != RTMPVersion {
		return errors.Wrapf(ErrInvalidVersion, "client sent %d", c0c1[0])
	}

	out := make([]byte, HandshakeS0S1Size+HandshakePacketLen)
	out[0] = RTMPVersion
	if err := fillHandshakePacket(out[1:HandshakeS0S1Size]); err != nil {
		return err
	}
	echoHandshakePacket(out[HandshakeS0S1Size:], c0c1[1:])
	if _, err := conn.Write(out); err != nil {
		return errors.Wrap(err, "write S0S1S2")
	}

	c2 := make([]byte, HandshakePacketLen)
	if _, err := io.ReadFull(conn, c2); err != nil {
		return errors.Wrap(err, "read C2")
	}
	return nil
}

// ClientHandshake performs the client side of the simple RTMP handshake:
// send C0/C1, read S0/S1/S2, send C2.
func ClientHandshake(conn io.ReadWriter) error {
	c0c1 := make([]byte, HandshakeC0C1Size)
	c0c1[0] = RTMPVersion
	if err := fillHandshakePacket(c0c1[1:]); err != nil {
		return err
	}
	if _, err := conn.Write(c0c1); err != nil {
		return errors.Wrap(err, "write C0C1")
	}

	in := make([]byte, HandshakeS0S1Size+HandshakePacketLen)
	if _, err := io.ReadFull(conn, in); err != nil {
		return errors.Wrap(err, "read S0S1S2")
	}
	if in[0] != RTMPVersion {
		return errors.Wrapf(ErrInvalidVersion, "server sent %d", in[0])
	}

	c2 := make([]byte, HandshakePacketLen)
	echoHandshakePacket(c2, in[1:HandshakeS0S1Size])
	if _, err := conn.Write(c2); err != nil {
		return errors.Wrap(err, "write C2")
	}
	return nil
}

// fillHandshakePacket writes time, a zero version and random bytes.
func fillHandshakePacket(p []byte) error {
	binary.BigEndian.PutUint32(p[0:4], uint32(time.Now().Unix()))
	binary.BigEndian.PutUint32(p[4:8], 0)
	if _, err := rand.Read(p[8:]); err != nil {
		return errors.Wrap(err, "handshake random")
	}
	return nil
}

// echoHandshakePacket copies the peer's packet, replacing time2 with our clock.
func echoHandshakePacket(dst, peer []byte) {
	copy(dst, peer)
	binary.BigEndian.PutUint32(dst[4:8], uint32(time.Now().Unix()))
}
