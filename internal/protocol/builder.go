package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// PacketBuilder accumulates big-endian packet bytes.
type PacketBuilder struct {
	buf bytes.Buffer
}

// NewPacketBuilder creates a new PacketBuilder.
func NewPacketBuilder() *PacketBuilder {
	return &PacketBuilder{}
}

// Reset clears the builder for reuse.
func (b *PacketBuilder) Reset() {
	b.buf.Reset()
}

// WriteUint8 writes a single byte.
func (b *PacketBuilder) WriteUint8(v uint8) *PacketBuilder {
	b.buf.WriteByte(v)
	return b
}

// WriteInt8 writes a signed byte.
func (b *PacketBuilder) WriteInt8(v int8) *PacketBuilder {
	b.buf.WriteByte(byte(v))
	return b
}

// WriteUint16 writes a uint16 in big-endian order.
func (b *PacketBuilder) WriteUint16(v uint16) *PacketBuilder {
	b.buf.Write(binary.BigEndian.AppendUint16(nil, v))
	return b
}

// WriteInt16 writes an int16 in big-endian order.
func (b *PacketBuilder) WriteInt16(v int16) *PacketBuilder {
	return b.WriteUint16(uint16(v))
}

// WriteUint32 writes a uint32 in big-endian order.
func (b *PacketBuilder) WriteUint32(v uint32) *PacketBuilder {
	b.buf.Write(binary.BigEndian.AppendUint32(nil, v))
	return b
}

// WriteInt32 writes an int32 in big-endian order.
func (b *PacketBuilder) WriteInt32(v int32) *PacketBuilder {
	return b.WriteUint32(uint32(v))
}

// WriteFloat32 writes an IEEE 754 float in big-endian order.
func (b *PacketBuilder) WriteFloat32(v float32) *PacketBuilder {
	return b.WriteUint32(math.Float32bits(v))
}

// WriteFloat64 writes an IEEE 754 double in big-endian order.
func (b *PacketBuilder) WriteFloat64(v float64) *PacketBuilder {
	b.buf.Write(binary.BigEndian.AppendUint64(nil, math.Float64bits(v)))
	return b
}

// WriteFixedString writes s into a slot of width bytes. Each character is
// truncated to its low byte, longer strings are cut and shorter ones are
// padded with spaces.
func (b *PacketBuilder) WriteFixedString(s string, width int) *PacketBuilder {
	n := 0
	for _, r := range s {
		if n == width {
			break
		}
		b.buf.WriteByte(byte(r & 0xFF))
		n++
	}
	for ; n < width; n++ {
		b.buf.WriteByte(' ')
	}
	return b
}

// WriteBytes writes raw bytes.
func (b *PacketBuilder) WriteBytes(data []byte) *PacketBuilder {
	b.buf.Write(data)
	return b
}

// Build returns the constructed packet bytes.
func (b *PacketBuilder) Build() []byte {
	return b.buf.Bytes()
}

// Len returns the current size of the packet being built.
func (b *PacketBuilder) Len() int {
	return b.buf.Len()
}

// String returns a hex dump of the current packet for debugging.
func (b *PacketBuilder) String() string {
	data := b.buf.Bytes()
	return fmt.Sprintf("PacketBuilder[%d bytes]: %x", len(data), data)
}
