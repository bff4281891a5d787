package protocol

import (
	"fmt"
	"math"
)

// Kind identifies how a wire type is laid out on the wire.
type Kind uint8

const (
	KindByte Kind = iota
	KindUByte
	KindShort
	KindUShort
	KindInt
	KindUInt
	KindFloat
	KindDouble
	KindString
	KindByteArray
	KindScaled
	KindStruct
)

// Field widths shared by the fixed-size types.
const (
	StringSize       = 64
	DoubleStringSize = 128
	ByteArraySize    = 1024
)

// Field is one named, typed member of a packet or struct type.
type Field struct {
	Name string
	Type *WireType
}

// WireType describes a single field encoding. Every type has a fixed width;
// struct widths are the sum of their members.
type WireType struct {
	Name    string
	Kind    Kind
	Trimmed bool // strings only: strip trailing spaces on decode
	Base    *WireType
	Scale   float64
	Members []Field

	width    int
	min, max float64
}

// Size returns the encoded width of the type in bytes.
func (t *WireType) Size() int {
	if t.Kind == KindStruct {
		n := 0
		for _, m := range t.Members {
			n += m.Type.Size()
		}
		return n
	}
	if t.Kind == KindScaled {
		return t.Base.Size()
	}
	return t.width
}

// Clamp saturates a raw integer value to the representable range of the type.
func (t *WireType) Clamp(raw float64) float64 {
	if math.IsNaN(raw) {
		return 0
	}
	return math.Max(t.min, math.Min(t.max, raw))
}

// EncodeScaled converts a logical value into the raw integer of a scaled type,
// rounding to nearest and saturating at the base type's bounds.
func (t *WireType) EncodeScaled(v float64) int64 {
	return int64(t.Base.Clamp(math.Round(v * t.Scale)))
}

// DecodeScaled is the inverse of EncodeScaled.
func (t *WireType) DecodeScaled(raw int64) float64 {
	return float64(raw) / t.Scale
}

func (t *WireType) String() string {
	return t.Name
}

func basic(name string, kind Kind, width int, lo, hi float64) *WireType {
	return &WireType{Name: name, Kind: kind, width: width, min: lo, max: hi}
}

func fixedString(name string, width int, trimmed bool) *WireType {
	return &WireType{Name: name, Kind: KindString, width: width, Trimmed: trimmed}
}

func scaled(name string, base *WireType, scale float64) *WireType {
	return &WireType{Name: name, Kind: KindScaled, Base: base, Scale: scale, min: base.min / scale, max: base.max / scale}
}

func structOf(name string, members ...Field) *WireType {
	return &WireType{Name: name, Kind: KindStruct, Members: members}
}

// Registered wire types.
var (
	TypeByte   = basic("Byte", KindByte, 1, math.MinInt8, math.MaxInt8)
	TypeUByte  = basic("UByte", KindUByte, 1, 0, math.MaxUint8)
	TypeShort  = basic("Short", KindShort, 2, math.MinInt16, math.MaxInt16)
	TypeUShort = basic("UShort", KindUShort, 2, 0, math.MaxUint16)
	TypeInt    = basic("Int", KindInt, 4, math.MinInt32, math.MaxInt32)
	TypeUInt   = basic("UInt", KindUInt, 4, 0, math.MaxInt32)
	TypeFloat  = basic("Float", KindFloat, 4, -math.MaxFloat32, math.MaxFloat32)
	TypeDouble = basic("Double", KindDouble, 8, -math.MaxFloat64, math.MaxFloat64)

	TypeString                = fixedString("String", StringSize, true)
	TypeUntrimmedString       = fixedString("UntrimmedString", StringSize, false)
	TypeDoubleString          = fixedString("DoubleString", DoubleStringSize, true)
	TypeDoubleUntrimmedString = fixedString("DoubleUntrimmedString", DoubleStringSize, false)

	TypeByteArray = &WireType{Name: "ByteArray", Kind: KindByteArray, width: ByteArraySize}

	TypeCoordinate = scaled("Coordinate", TypeShort, 32)
	TypeVelocity   = scaled("Velocity", TypeInt, 10000)
	TypeAngle      = scaled("Angle", TypeUByte, 360.0/256.0)
	TypeAngle2     = scaled("Angle2", TypeUShort, 360.0/256.0)

	TypeVector3 = structOf("Vector3",
		Field{"x", TypeFloat}, Field{"y", TypeFloat}, Field{"z", TypeFloat})
	TypeUVCoords = structOf("UVCoords",
		Field{"u1", TypeUShort}, Field{"v1", TypeUShort}, Field{"u2", TypeUShort}, Field{"v2", TypeUShort})
	TypeAnimData = structOf("AnimData",
		Field{"flags", TypeUByte}, Field{"a", TypeFloat}, Field{"b", TypeFloat}, Field{"c", TypeFloat}, Field{"d", TypeFloat})
)

var wireTypes = map[string]*WireType{}

func init() {
	for _, t := range []*WireType{
		TypeByte, TypeUByte, TypeShort, TypeUShort, TypeInt, TypeUInt, TypeFloat, TypeDouble,
		TypeString, TypeUntrimmedString, TypeDoubleString, TypeDoubleUntrimmedString,
		TypeByteArray, TypeCoordinate, TypeVelocity, TypeAngle, TypeAngle2,
		TypeVector3, TypeUVCoords, TypeAnimData,
	} {
		wireTypes[t.Name] = t
	}
}

// LookupType returns the registered wire type with the given name.
func LookupType(name string) (*WireType, error) {
	t, ok := wireTypes[name]
	if !ok {
		return nil, fmt.Errorf("unknown wire type %q", name)
	}
	return t, nil
}

// Vector3 is a float triple used by the custom model packets.
type Vector3 struct {
	X, Y, Z float32
}

func (v *Vector3) marshal(io IO) {
	io.Float("x", &v.X)
	io.Float("y", &v.Y)
	io.Float("z", &v.Z)
}

// UVCoords is a texture rectangle.
type UVCoords struct {
	U1, V1, U2, V2 uint16
}

func (c *UVCoords) marshal(io IO) {
	io.UShort("u1", &c.U1)
	io.UShort("v1", &c.V1)
	io.UShort("u2", &c.U2)
	io.UShort("v2", &c.V2)
}

// AnimData is one animation slot of a model part.
type AnimData struct {
	Flags      uint8
	A, B, C, D float32
}

func (a *AnimData) marshal(io IO) {
	io.UByte("flags", &a.Flags)
	io.Float("a", &a.A)
	io.Float("b", &a.B)
	io.Float("c", &a.C)
	io.Float("d", &a.D)
}
