package world

import (
	"strconv"
	"strings"
)

// Block IDs used by the server itself.
const (
	Air        byte = 0x00
	Stone      byte = 0x01
	Grass      byte = 0x02
	Dirt       byte = 0x03
	Bedrock    byte = 0x07
	Water      byte = 0x08
	StillWater byte = 0x09
	Lava       byte = 0x0A
	StillLava  byte = 0x0B
	Obsidian   byte = 0x31

	// MaxVanillaBlock is the highest block every client understands.
	MaxVanillaBlock byte = 0x31
	// MaxCustomBlock is the highest block of CustomBlocks support level 1.
	MaxCustomBlock byte = 0x41
)

// fallbackLevel1 substitutes the CustomBlocks level 1 blocks (0x32..0x41)
// for clients that only understand the vanilla range.
var fallbackLevel1 = [...]byte{
	0x2C, 0x27, 0x0C, 0x00, 0x0A, 0x21, 0x19, 0x03,
	0x1D, 0x1C, 0x14, 0x2A, 0x31, 0x24, 0x05, 0x01,
}

// Block is one row of the block table.
type Block struct {
	ID        byte
	Name      string
	Solid     bool
	Liquid    bool
	AdminOnly bool
	Fallback  byte
}

// blockOverride holds the fields a block changes relative to its defaults.
// Nil means "keep the default".
type blockOverride struct {
	Solid     *bool
	Liquid    *bool
	AdminOnly *bool
}

var defaultBlock = Block{Solid: true}

// applyBlockDefaults builds a block from the table defaults and an override.
func applyBlockDefaults(def Block, id byte, name string, o blockOverride) Block {
	b := def
	b.ID = id
	b.Name = name
	b.Fallback = id
	if o.Solid != nil {
		b.Solid = *o.Solid
	}
	if o.Liquid != nil {
		b.Liquid = *o.Liquid
	}
	if o.AdminOnly != nil {
		b.AdminOnly = *o.AdminOnly
	}
	return b
}

func flag(v bool) *bool { return &v }

var (
	nonSolid = blockOverride{Solid: flag(false)}
	liquid   = blockOverride{Solid: flag(false), Liquid: flag(true), AdminOnly: flag(true)}
)

var blockNames = []struct {
	name string
	o    blockOverride
}{
	{"air", nonSolid}, {"stone", blockOverride{}}, {"grass", blockOverride{}}, {"dirt", blockOverride{}},
	{"cobblestone", blockOverride{}}, {"wood", blockOverride{}}, {"sapling", nonSolid},
	{"bedrock", blockOverride{AdminOnly: flag(true)}},
	{"water", liquid}, {"still_water", liquid}, {"lava", liquid}, {"still_lava", liquid},
	{"sand", blockOverride{}}, {"gravel", blockOverride{}}, {"gold_ore", blockOverride{}},
	{"iron_ore", blockOverride{}}, {"coal_ore", blockOverride{}}, {"log", blockOverride{}},
	{"leaves", blockOverride{}}, {"sponge", blockOverride{}}, {"glass", blockOverride{}},
	{"red", blockOverride{}}, {"orange", blockOverride{}}, {"yellow", blockOverride{}},
	{"lime", blockOverride{}}, {"green", blockOverride{}}, {"teal", blockOverride{}},
	{"aqua", blockOverride{}}, {"cyan", blockOverride{}}, {"blue", blockOverride{}},
	{"indigo", blockOverride{}}, {"violet", blockOverride{}}, {"magenta", blockOverride{}},
	{"pink", blockOverride{}}, {"black", blockOverride{}}, {"gray", blockOverride{}},
	{"white", blockOverride{}}, {"dandelion", nonSolid}, {"rose", nonSolid},
	{"brown_mushroom", nonSolid}, {"red_mushroom", nonSolid}, {"gold", blockOverride{}},
	{"iron", blockOverride{}}, {"double_slab", blockOverride{}}, {"slab", blockOverride{}},
	{"brick", blockOverride{}}, {"tnt", blockOverride{}}, {"bookshelf", blockOverride{}},
	{"mossy_rocks", blockOverride{}}, {"obsidian", blockOverride{}},
	// CustomBlocks level 1
	{"cobblestone_slab", blockOverride{}}, {"rope", nonSolid}, {"sandstone", blockOverride{}},
	{"snow", nonSolid}, {"fire", nonSolid}, {"light_pink", blockOverride{}},
	{"forest_green", blockOverride{}}, {"brown", blockOverride{}}, {"deep_blue", blockOverride{}},
	{"turquoise", blockOverride{}}, {"ice", blockOverride{}}, {"ceramic_tile", blockOverride{}},
	{"magma", blockOverride{}}, {"pillar", blockOverride{}}, {"crate", blockOverride{}},
	{"stone_brick", blockOverride{}},
}

var blocks = func() []Block {
	out := make([]Block, len(blockNames))
	for i, n := range blockNames {
		out[i] = applyBlockDefaults(defaultBlock, byte(i), n.name, n.o)
		if byte(i) > MaxVanillaBlock {
			out[i].Fallback = fallbackLevel1[byte(i)-MaxVanillaBlock-1]
		}
	}
	return out
}()

// BlockInfo returns the table row for id.
func BlockInfo(id byte) (Block, bool) {
	if int(id) >= len(blocks) {
		return Block{}, false
	}
	return blocks[id], true
}

// AdminBlocks lists the blocks only operators may place or break.
func AdminBlocks() []byte {
	var out []byte
	for _, b := range blocks {
		if b.AdminOnly {
			out = append(out, b.ID)
		}
	}
	return out
}

// MaxBlock returns the highest block ID valid at a custom block support level.
func MaxBlock(supportLevel uint8) byte {
	if supportLevel >= 1 {
		return MaxCustomBlock
	}
	return MaxVanillaBlock
}

// ConvertBlock maps id to what a client at supportLevel can display.
func ConvertBlock(id byte, supportLevel uint8) byte {
	if id <= MaxBlock(supportLevel) {
		return id
	}
	if b, ok := BlockInfo(id); ok {
		return b.Fallback
	}
	return Stone
}

// ParseBlock accepts a block name or a numeric ID.
func ParseBlock(s string) (byte, bool) {
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 || n >= len(blocks) {
			return 0, false
		}
		return byte(n), true
	}
	s = strings.ToLower(s)
	for _, b := range blocks {
		if b.Name == s {
			return b.ID, true
		}
	}
	return 0, false
}
