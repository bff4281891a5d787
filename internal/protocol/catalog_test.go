package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogVariants(t *testing.T) {
	assert.True(t, Vanilla().Has(IDHandshake))
	assert.False(t, Vanilla().Has(IDExtInfo))
	assert.True(t, Negotiation().Has(IDExtInfo))
	assert.True(t, Negotiation().Has(IDCustomBlockSupportLevel))
	assert.False(t, Negotiation().Has(IDHackControl))

	c := Negotiation().ForExtensions([]Extension{ExtHackControl, {"ExtPlayerList", 1}, {"Nonsense", 3}})
	assert.True(t, c.Has(IDHackControl))
	assert.False(t, c.Has(IDExtAddPlayerName), "version mismatch must not enable packets")
	assert.Equal(t, []Extension{ExtHackControl}, c.Extensions())

	// deriving never mutates the parent
	assert.False(t, Negotiation().Has(IDHackControl))
}

func TestCatalogExtend(t *testing.T) {
	custom := Registration{ID: 0x60, Name: "Custom", New: func() Packet { return &customPacket{} }}
	c, err := Vanilla().Extend(custom)
	require.NoError(t, err)
	assert.True(t, c.Has(0x60))
	assert.False(t, Vanilla().Has(0x60))

	data, err := Encode(c, &customPacket{Value: 42})
	require.NoError(t, err)
	p, _, err := Decode(c, data, 0)
	require.NoError(t, err)
	assert.Equal(t, &customPacket{Value: 42}, p)

	_, err = Vanilla().Extend(Registration{ID: IDMessage, Name: "Override", New: func() Packet { return &Message{} }})
	assert.Error(t, err)

	_, err = Vanilla().Extend(Registration{ID: 0x61, Name: "Mismatch", New: func() Packet { return &customPacket{} }})
	assert.Error(t, err)
}

func TestCatalogCacheSharesVariants(t *testing.T) {
	cache := NewCatalogCache(Negotiation())
	a := cache.For([]Extension{ExtHeldBlock, ExtClickDistance})
	b := cache.For([]Extension{ExtClickDistance, ExtHeldBlock})
	assert.Same(t, a, b)
	assert.Equal(t, 1, cache.Len())

	c := cache.For(nil)
	assert.NotSame(t, a, c)
	assert.Equal(t, 2, cache.Len())
}

type customPacket struct {
	Value uint16
}

func (*customPacket) ID() byte { return 0x60 }
func (p *customPacket) Marshal(io IO) {
	io.UShort("value", &p.Value)
}
