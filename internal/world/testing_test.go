package world

import (
	"sync"

	"github.com/cubeforge-project/cubeforge/internal/protocol"
)

// recorder is a Viewer that keeps everything it is sent.
type recorder struct {
	mu           sync.Mutex
	exts         map[protocol.Extension]bool
	supportLevel uint8
	packets      []protocol.Packet
	batches      int
}

func newRecorder(supportLevel uint8, exts ...protocol.Extension) *recorder {
	r := &recorder{exts: map[protocol.Extension]bool{}, supportLevel: supportLevel}
	for _, e := range exts {
		r.exts[e] = true
	}
	return r
}

func (r *recorder) Supports(ext protocol.Extension) bool { return r.exts[ext] }
func (r *recorder) ConvertBlock(b byte) byte             { return ConvertBlock(b, r.supportLevel) }

func (r *recorder) Send(p protocol.Packet) {
	r.mu.Lock()
	r.packets = append(r.packets, p)
	r.mu.Unlock()
}

func (r *recorder) SendBatch(pkts []protocol.Packet) {
	r.mu.Lock()
	r.packets = append(r.packets, pkts...)
	r.batches++
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.packets)
}

var _ Viewer = (*recorder)(nil)
