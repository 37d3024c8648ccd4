// Package redundancy wraps klauspost/reedsolomon into the systematic
// erasure code used to protect each block record: N data shards plus K
// parity shards over GF(2^8), reconstructable from any N of the N+K.
package redundancy

import (
	"fmt"

	"github.com/klauspost/reedsolomon"
)

// Manager encodes a byte buffer into N+K shards and reconstructs a
// buffer from any N of them.
type Manager struct {
	dataShards   int
	parityShards int
	enc          reedsolomon.Encoder
}

// NewManager validates (data, parity) and builds the GF(2^8) encoder.
func NewManager(dataShards, parityShards int) (*Manager, error) {
	if dataShards <= 0 {
		return nil, fmt.Errorf("redundancy: data shard count must be positive, got %d", dataShards)
	}
	if parityShards < 0 {
		return nil, fmt.Errorf("redundancy: parity shard count must be non-negative, got %d", parityShards)
	}
	enc, err := reedsolomon.New(dataShards, parityShards)
	if err != nil {
		return nil, fmt.Errorf("redundancy: init encoder: %w", err)
	}
	return &Manager{dataShards: dataShards, parityShards: parityShards, enc: enc}, nil
}

// DataShards reports the configured number of data shards (N).
func (m *Manager) DataShards() int { return m.dataShards }

// ParityShards reports the configured number of parity shards (K).
func (m *Manager) ParityShards() int { return m.parityShards }

// Encode splits payload into N equal-sized shards (zero-padding the
// last one as needed, per ceil(len(payload)/N)), appends K zero parity
// shards, and fills the parity shards in place. Returns all N+K shards
// in order.
func (m *Manager) Encode(payload []byte) ([][]byte, error) {
	shardSize := (len(payload) + m.dataShards - 1) / m.dataShards
	if shardSize == 0 {
		shardSize = 1
	}

	total := m.dataShards + m.parityShards
	shards := make([][]byte, total)

	buf := make([]byte, shardSize*m.dataShards)
	copy(buf, payload)
	for i := 0; i < m.dataShards; i++ {
		shards[i] = buf[i*shardSize : (i+1)*shardSize]
	}
	for i := m.dataShards; i < total; i++ {
		shards[i] = make([]byte, shardSize)
	}

	if err := m.enc.Encode(shards); err != nil {
		return nil, fmt.Errorf("redundancy: encode: %w", err)
	}
	return shards, nil
}

// Reconstruct takes a length N+K slice (nil entries mark missing
// shards) and, provided at least N are present, repairs the missing
// entries and returns the concatenation of the first N (data) shards.
// The result may carry trailing zero padding from Encode; callers
// truncate using an out-of-band original length.
func (m *Manager) Reconstruct(shards [][]byte) ([]byte, error) {
	total := m.dataShards + m.parityShards
	if len(shards) != total {
		return nil, fmt.Errorf("redundancy: expected %d shards, got %d", total, len(shards))
	}

	present := 0
	for _, s := range shards {
		if s != nil {
			present++
		}
	}
	if present < m.dataShards {
		return nil, fmt.Errorf("redundancy: insufficient shards: have %d, need %d", present, m.dataShards)
	}

	if err := m.enc.Reconstruct(shards); err != nil {
		return nil, fmt.Errorf("redundancy: reconstruct: %w", err)
	}

	shardSize := 0
	for _, s := range shards {
		if s != nil {
			shardSize = len(s)
			break
		}
	}

	out := make([]byte, 0, shardSize*m.dataShards)
	for i := 0; i < m.dataShards; i++ {
		if shards[i] == nil {
			return nil, fmt.Errorf("redundancy: shard %d still missing after reconstruct", i)
		}
		out = append(out, shards[i]...)
	}
	return out, nil
}
