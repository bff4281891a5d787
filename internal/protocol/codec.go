package protocol

import (
	"errors"
	"fmt"
	"io"
)

// ErrEndOfStream is returned when a packet runs past the available bytes.
var ErrEndOfStream = errors.New("end of stream")

// UnknownPacketError is returned for a packet ID the catalog does not hold.
type UnknownPacketError struct {
	ID byte
}

func (e *UnknownPacketError) Error() string {
	return fmt.Sprintf("unknown packet id %d", e.ID)
}

// Encode serializes p under catalog c. Packets outside the catalog are
// rejected before anything is written.
func Encode(c *Catalog, p Packet) ([]byte, error) {
	b := NewPacketBuilder()
	if err := EncodeTo(b, c, p); err != nil {
		return nil, err
	}
	return b.Build(), nil
}

// EncodeTo appends the encoding of p to b.
func EncodeTo(b *PacketBuilder, c *Catalog, p Packet) error {
	if !c.Has(p.ID()) {
		return &UnknownPacketError{ID: p.ID()}
	}
	b.WriteUint8(p.ID())
	p.Marshal(NewWriter(b))
	return nil
}

// Decode reads one packet from buf starting at offset. It returns the packet
// and the number of bytes consumed. An unknown ID consumes only the ID byte;
// a truncated packet returns ErrEndOfStream and consumes nothing.
func Decode(c *Catalog, buf []byte, offset int) (Packet, int, error) {
	if offset >= len(buf) {
		return nil, 0, ErrEndOfStream
	}
	id := buf[offset]
	e := c.entries[id]
	if e == nil {
		return nil, 1, &UnknownPacketError{ID: id}
	}
	r := NewReader(buf[offset+1:])
	p := e.new()
	p.Marshal(r)
	if err := r.Err(); err != nil {
		return nil, 0, err
	}
	return p, 1 + r.Offset(), nil
}

// PacketReader reads whole packets from a stream. The catalog can be swapped
// between reads once extension negotiation completes.
type PacketReader struct {
	r       io.Reader
	catalog *Catalog
	buf     []byte
	lastID  byte
}

// NewPacketReader creates a PacketReader over r.
func NewPacketReader(r io.Reader, c *Catalog) *PacketReader {
	return &PacketReader{r: r, catalog: c, buf: make([]byte, 1+ByteArraySize+8)}
}

// SetCatalog replaces the catalog used for subsequent reads.
func (pr *PacketReader) SetCatalog(c *Catalog) {
	pr.catalog = c
}

// LastID returns the ID byte of the most recent read attempt.
func (pr *PacketReader) LastID() byte {
	return pr.lastID
}

// Next blocks until a full packet is available. io.EOF is returned when the
// stream ends cleanly between packets; a stream ending inside a packet is
// ErrEndOfStream.
func (pr *PacketReader) Next() (Packet, error) {
	if _, err := io.ReadFull(pr.r, pr.buf[:1]); err != nil {
		return nil, err
	}
	id := pr.buf[0]
	pr.lastID = id
	e := pr.catalog.entries[id]
	if e == nil {
		return nil, &UnknownPacketError{ID: id}
	}
	n := 1 + e.spec.Size
	if n > len(pr.buf) {
		pr.buf = make([]byte, n)
	}
	if _, err := io.ReadFull(pr.r, pr.buf[1:n]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrEndOfStream
		}
		return nil, fmt.Errorf("failed to read packet %d: %w", id, err)
	}
	p, _, err := Decode(pr.catalog, pr.buf[:n], 0)
	return p, err
}
