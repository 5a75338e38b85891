package rtmp

import (
	"bufio"
	"io"
	"net"
	"sync"
	"time"
)

// Conn pairs a network connection with a chunk reader and writer.
// Reads must come from one goroutine. Writes are serialized internally.
type Conn struct {
	conn   net.Conn
	reader *ChunkReader

	mu     sync.Mutex
	writer *ChunkWriter

	closeOnce sync.Once
}

// NewConn wraps an established connection. The handshake is not performed.
func NewConn(conn net.Conn) *Conn {
	return &Conn{
		conn:   conn,
		reader: NewChunkReader(bufio.NewReaderSize(conn, 64*1024)),
		writer: NewChunkWriter(bufio.NewWriterSize(conn, 64*1024)),
	}
}

// ReadMessage reads the next complete message.
func (c *Conn) ReadMessage() (*Message, error) {
	return c.reader.ReadMessage()
}

// SetReadChunkSize applies the chunk size announced by the peer.
func (c *Conn) SetReadChunkSize(size uint32) {
	c.reader.SetChunkSize(size)
}

// SetMaxMessageSize bounds inbound message length.
func (c *Conn) SetMaxMessageSize(size uint32) {
	c.reader.SetMaxMessageSize(size)
}

// AbortMessage drops a partially received message on a chunk stream.
func (c *Conn) AbortMessage(csID uint32) {
	c.reader.Abort(csID)
}

// WriteMessages writes and flushes messages in order.
func (c *Conn) WriteMessages(msgs []*Message) error {
	if len(msgs) == 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writer.WriteMessages(msgs)
}

// WriteChunkSize returns the outbound chunk size in effect.
func (c *Conn) WriteChunkSize() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writer.ChunkSize()
}

// SetDeadline sets the read and write deadline on the underlying connection.
func (c *Conn) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}

// SetReadDeadline sets the read deadline on the underlying connection.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Close closes the underlying connection once.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
	})
	return err
}

var _ io.Closer = (*Conn)(nil)
