package world

import (
	"github.com/cubeforge-project/cubeforge/internal/protocol"
)

// TransferPackets builds the level transfer for v: LevelInit, the chunked
// blob with v's block fallback applied, LevelEnd, then weather and
// environment for clients that support them. The sequence must reach the
// client uninterrupted.
func (l *Level) TransferPackets(v Viewer) ([]protocol.Packet, error) {
	blocks := l.Blocks()
	for i, b := range blocks {
		blocks[i] = v.ConvertBlock(b)
	}
	blob, err := CompressBlocks(blocks)
	if err != nil {
		return nil, err
	}

	pkts := make([]protocol.Packet, 0, len(blob)/protocol.ByteArraySize+16)
	pkts = append(pkts, &protocol.LevelInit{})
	for pos := 0; pos < len(blob); pos += protocol.ByteArraySize {
		end := min(pos+protocol.ByteArraySize, len(blob))
		chunk := &protocol.LevelChunk{
			ChunkLength:     uint16(end - pos),
			PercentComplete: uint8(end * 100 / len(blob)),
		}
		copy(chunk.ChunkData[:], blob[pos:end])
		pkts = append(pkts, chunk)
	}
	pkts = append(pkts, &protocol.LevelEnd{SizeX: uint16(l.sizeX), SizeY: uint16(l.sizeY), SizeZ: uint16(l.sizeZ)})
	return append(pkts, l.EnvironmentPackets(v)...), nil
}

// EnvironmentPackets returns the weather, texture and property packets v
// can receive.
func (l *Level) EnvironmentPackets(v Viewer) []protocol.Packet {
	l.mu.RLock()
	weather, textures, env := l.weather, l.textures, l.env
	l.mu.RUnlock()

	var pkts []protocol.Packet
	if v.Supports(protocol.ExtEnvWeatherType) {
		pkts = append(pkts, &protocol.EnvSetWeatherType{Weather: uint8(weather)})
	}
	if v.Supports(protocol.ExtEnvMapAspect) {
		if textures != "" {
			pkts = append(pkts, &protocol.SetMapEnvURL{URL: textures})
		}
		for _, p := range EnvProperties() {
			pkts = append(pkts, PropertyPacket(env, p, v))
		}
	}
	return pkts
}

// PropertyPacket encodes a single environment property for v.
func PropertyPacket(env Environment, p EnvProperty, v Viewer) *protocol.SetMapEnvProperty {
	return &protocol.SetMapEnvProperty{PropertyID: uint8(p), Value: env.WireValue(p, v.ConvertBlock)}
}

// SendTo streams the level to v as one batch.
func (l *Level) SendTo(v Viewer) error {
	pkts, err := l.TransferPackets(v)
	if err != nil {
		return err
	}
	v.SendBatch(pkts)
	return nil
}
