package world

// Generator fills a freshly created level.
type Generator interface {
	Name() string
	Generate(l *Level)
}

// Layer is a run of identical blocks in a flat level.
type Layer struct {
	Block  byte
	Height int
}

// FlatGenerator stacks layers from y=0 upwards; everything above is air.
type FlatGenerator struct {
	Layers []Layer
}

// DefaultFlatGenerator returns bedrock, stone up to half height, dirt and grass.
func DefaultFlatGenerator(sizeY int) FlatGenerator {
	return FlatGenerator{Layers: []Layer{
		{Bedrock, 1},
		{Stone, sizeY/2 - 4},
		{Dirt, 2},
		{Grass, 1},
	}}
}

func (g FlatGenerator) Name() string { return "flat" }

// Column returns the block for each height of a column.
func (g FlatGenerator) Column(sizeY int) []byte {
	col := make([]byte, 0, sizeY)
	for _, layer := range g.Layers {
		for i := 0; i < layer.Height && len(col) < sizeY; i++ {
			col = append(col, layer.Block)
		}
	}
	for len(col) < sizeY {
		col = append(col, Air)
	}
	return col
}

func (g FlatGenerator) Generate(l *Level) {
	col := g.Column(l.sizeY)
	l.mu.Lock()
	defer l.mu.Unlock()
	plane := l.sizeX * l.sizeZ
	for y, b := range col {
		if b == Air {
			continue
		}
		layer := l.blocks[y*plane : (y+1)*plane]
		for i := range layer {
			layer[i] = b
		}
	}
	l.touch()
}
