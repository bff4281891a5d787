package protocol

import (
	"encoding/binary"
	"math"
	"strings"
)

// IO is implemented by everything that walks a packet's fields in declared
// order: the encoder, the decoder and the schema recorder. Each packet type
// describes its layout once, in its Marshal method.
type IO interface {
	Byte(name string, x *int8)
	UByte(name string, x *uint8)
	Short(name string, x *int16)
	UShort(name string, x *uint16)
	Int(name string, x *int32)
	UInt(name string, x *uint32)
	Float(name string, x *float32)
	Double(name string, x *float64)
	String(name string, x *string)
	UntrimmedString(name string, x *string)
	DoubleString(name string, x *string)
	DoubleUntrimmedString(name string, x *string)
	ByteArray(name string, x *[ByteArraySize]byte)
	Coordinate(name string, x *float64)
	Velocity(name string, x *float64)
	Angle(name string, x *float64)
	Angle2(name string, x *float64)
	Vector3(name string, x *Vector3)
	UVCoords(name string, x *UVCoords)
	AnimData(name string, x *AnimData)
}

// Writer encodes packet fields into a PacketBuilder.
type Writer struct {
	b *PacketBuilder
}

// NewWriter returns a Writer appending to b.
func NewWriter(b *PacketBuilder) *Writer {
	return &Writer{b: b}
}

func (w *Writer) Byte(_ string, x *int8)     { w.b.WriteInt8(*x) }
func (w *Writer) UByte(_ string, x *uint8)   { w.b.WriteUint8(*x) }
func (w *Writer) Short(_ string, x *int16)   { w.b.WriteInt16(*x) }
func (w *Writer) UShort(_ string, x *uint16) { w.b.WriteUint16(*x) }
func (w *Writer) Int(_ string, x *int32)     { w.b.WriteInt32(*x) }
func (w *Writer) UInt(_ string, x *uint32)   { w.b.WriteUint32(*x) }
func (w *Writer) Float(_ string, x *float32) { w.b.WriteFloat32(*x) }
func (w *Writer) Double(_ string, x *float64) {
	w.b.WriteFloat64(*x)
}

func (w *Writer) String(_ string, x *string)          { w.b.WriteFixedString(*x, StringSize) }
func (w *Writer) UntrimmedString(_ string, x *string) { w.b.WriteFixedString(*x, StringSize) }
func (w *Writer) DoubleString(_ string, x *string)    { w.b.WriteFixedString(*x, DoubleStringSize) }
func (w *Writer) DoubleUntrimmedString(_ string, x *string) {
	w.b.WriteFixedString(*x, DoubleStringSize)
}

func (w *Writer) ByteArray(_ string, x *[ByteArraySize]byte) { w.b.WriteBytes(x[:]) }

func (w *Writer) Coordinate(_ string, x *float64) {
	w.b.WriteInt16(int16(TypeCoordinate.EncodeScaled(*x)))
}

func (w *Writer) Velocity(_ string, x *float64) {
	w.b.WriteInt32(int32(TypeVelocity.EncodeScaled(*x)))
}

func (w *Writer) Angle(_ string, x *float64) {
	w.b.WriteUint8(uint8(TypeAngle.EncodeScaled(*x)))
}

func (w *Writer) Angle2(_ string, x *float64) {
	w.b.WriteUint16(uint16(TypeAngle2.EncodeScaled(*x)))
}

func (w *Writer) Vector3(_ string, x *Vector3)   { x.marshal(w) }
func (w *Writer) UVCoords(_ string, x *UVCoords) { x.marshal(w) }
func (w *Writer) AnimData(_ string, x *AnimData) { x.marshal(w) }

// Reader decodes packet fields from a byte slice. Every read is bounds
// checked; the first short read latches ErrEndOfStream and zeroes the
// remaining fields.
type Reader struct {
	buf []byte
	off int
	err error
}

// NewReader returns a Reader over buf.
func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

// Err returns ErrEndOfStream if any field ran past the end of the buffer.
func (r *Reader) Err() error { return r.err }

// Offset returns the number of bytes consumed so far.
func (r *Reader) Offset() int { return r.off }

func (r *Reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.buf) {
		r.err = ErrEndOfStream
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

func (r *Reader) u8() uint8 {
	if b := r.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (r *Reader) u16() uint16 {
	if b := r.take(2); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (r *Reader) u32() uint32 {
	if b := r.take(4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (r *Reader) str(width int, trimmed bool) string {
	b := r.take(width)
	if b == nil {
		return ""
	}
	runes := make([]rune, len(b))
	for i, c := range b {
		runes[i] = rune(c)
	}
	s := string(runes)
	if trimmed {
		s = strings.TrimRight(s, " ")
	}
	return s
}

func (r *Reader) Byte(_ string, x *int8)     { *x = int8(r.u8()) }
func (r *Reader) UByte(_ string, x *uint8)   { *x = r.u8() }
func (r *Reader) Short(_ string, x *int16)   { *x = int16(r.u16()) }
func (r *Reader) UShort(_ string, x *uint16) { *x = r.u16() }
func (r *Reader) Int(_ string, x *int32)     { *x = int32(r.u32()) }
func (r *Reader) UInt(_ string, x *uint32)   { *x = r.u32() }
func (r *Reader) Float(_ string, x *float32) { *x = math.Float32frombits(r.u32()) }

func (r *Reader) Double(_ string, x *float64) {
	if b := r.take(8); b != nil {
		*x = math.Float64frombits(binary.BigEndian.Uint64(b))
		return
	}
	*x = 0
}

func (r *Reader) String(_ string, x *string)          { *x = r.str(StringSize, true) }
func (r *Reader) UntrimmedString(_ string, x *string) { *x = r.str(StringSize, false) }
func (r *Reader) DoubleString(_ string, x *string)    { *x = r.str(DoubleStringSize, true) }
func (r *Reader) DoubleUntrimmedString(_ string, x *string) {
	*x = r.str(DoubleStringSize, false)
}

func (r *Reader) ByteArray(_ string, x *[ByteArraySize]byte) {
	if b := r.take(ByteArraySize); b != nil {
		copy(x[:], b)
		return
	}
	*x = [ByteArraySize]byte{}
}

func (r *Reader) Coordinate(_ string, x *float64) {
	*x = TypeCoordinate.DecodeScaled(int64(int16(r.u16())))
}

func (r *Reader) Velocity(_ string, x *float64) {
	*x = TypeVelocity.DecodeScaled(int64(int32(r.u32())))
}

func (r *Reader) Angle(_ string, x *float64) {
	*x = TypeAngle.DecodeScaled(int64(r.u8()))
}

func (r *Reader) Angle2(_ string, x *float64) {
	*x = TypeAngle2.DecodeScaled(int64(r.u16()))
}

func (r *Reader) Vector3(_ string, x *Vector3)   { x.marshal(r) }
func (r *Reader) UVCoords(_ string, x *UVCoords) { x.marshal(r) }
func (r *Reader) AnimData(_ string, x *AnimData) { x.marshal(r) }

// schema records the ordered field list a packet declares.
type schema struct {
	fields []Field
}

func (s *schema) add(name string, t *WireType) {
	s.fields = append(s.fields, Field{Name: name, Type: t})
}

func (s *schema) Byte(n string, _ *int8)                     { s.add(n, TypeByte) }
func (s *schema) UByte(n string, _ *uint8)                   { s.add(n, TypeUByte) }
func (s *schema) Short(n string, _ *int16)                   { s.add(n, TypeShort) }
func (s *schema) UShort(n string, _ *uint16)                 { s.add(n, TypeUShort) }
func (s *schema) Int(n string, _ *int32)                     { s.add(n, TypeInt) }
func (s *schema) UInt(n string, _ *uint32)                   { s.add(n, TypeUInt) }
func (s *schema) Float(n string, _ *float32)                 { s.add(n, TypeFloat) }
func (s *schema) Double(n string, _ *float64)                { s.add(n, TypeDouble) }
func (s *schema) String(n string, _ *string)                 { s.add(n, TypeString) }
func (s *schema) UntrimmedString(n string, _ *string)        { s.add(n, TypeUntrimmedString) }
func (s *schema) DoubleString(n string, _ *string)           { s.add(n, TypeDoubleString) }
func (s *schema) DoubleUntrimmedString(n string, _ *string)  { s.add(n, TypeDoubleUntrimmedString) }
func (s *schema) ByteArray(n string, _ *[ByteArraySize]byte) { s.add(n, TypeByteArray) }
func (s *schema) Coordinate(n string, _ *float64)            { s.add(n, TypeCoordinate) }
func (s *schema) Velocity(n string, _ *float64)              { s.add(n, TypeVelocity) }
func (s *schema) Angle(n string, _ *float64)                 { s.add(n, TypeAngle) }
func (s *schema) Angle2(n string, _ *float64)                { s.add(n, TypeAngle2) }
func (s *schema) Vector3(n string, _ *Vector3)               { s.add(n, TypeVector3) }
func (s *schema) UVCoords(n string, _ *UVCoords)             { s.add(n, TypeUVCoords) }
func (s *schema) AnimData(n string, _ *AnimData)             { s.add(n, TypeAnimData) }

var (
	_ IO = (*Writer)(nil)
	_ IO = (*Reader)(nil)
	_ IO = (*schema)(nil)
)
