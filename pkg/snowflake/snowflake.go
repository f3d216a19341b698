// Package snowflake generates time-ordered unique message ids: 41 bits of
// milliseconds since a custom epoch, 10 bits of node id, 12 bits of sequence.
package snowflake

import (
	"errors"
	"sync"
	"time"
)

const (
	nodeBits        = 10
	seqBits         = 12
	nodeMax         = -1 ^ (-1 << nodeBits)
	seqMask         = -1 ^ (-1 << seqBits)
	timeShift       = nodeBits + seqBits
	nodeShift       = seqBits
	epoch     int64 = 1735689600000 // 2025-01-01 00:00:00 UTC
)

type Node struct {
	mu   sync.Mutex
	last int64
	node int64
	seq  int64
}

func NewNode(node int64) (*Node, error) {
	if node < 0 || node > nodeMax {
		return nil, errors.New("node number must be between 0 and 1023")
	}
	return &Node{node: node}, nil
}

// Generate returns the next id. Ids from one node are strictly increasing;
// within a millisecond the sequence counter breaks ties.
func (n *Node) Generate() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := time.Now().UnixMilli()
	if now < n.last {
		// Clock went backwards; hold at the last observed time.
		now = n.last
	}

	if now == n.last {
		n.seq = (n.seq + 1) & seqMask
		if n.seq == 0 {
			// Sequence exhausted for this millisecond, spin to the next.
			for now <= n.last {
				now = time.Now().UnixMilli()
			}
		}
	} else {
		n.seq = 0
	}
	n.last = now

	return ((now - epoch) << timeShift) | (n.node << nodeShift) | n.seq
}
