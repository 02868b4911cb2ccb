package indexer

import (
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"
)

// DefaultMaxAddresses caps the address list of one eth_getLogs call.
const DefaultMaxAddresses = 500

// BlockRange is an inclusive block range.
type BlockRange struct {
	From uint64
	To   uint64
}

func (r BlockRange) String() string { return fmt.Sprintf("[%d,%d]", r.From, r.To) }

// SplitRange cuts [from, to] into consecutive ranges of at most batchSize blocks.
func SplitRange(from, to, batchSize uint64) ([]BlockRange, error) {
	if batchSize == 0 {
		return nil, fmt.Errorf("batch size must be greater than zero")
	}
	if to < from {
		return nil, fmt.Errorf("to block %d is before from block %d", to, from)
	}

	ranges := make([]BlockRange, 0, (to-from)/batchSize+1)
	for start := from; ; {
		end := to
		if to-start >= batchSize {
			end = start + batchSize - 1
		}
		ranges = append(ranges, BlockRange{From: start, To: end})
		if end == to || end == math.MaxUint64 {
			return ranges, nil
		}
		start = end + 1
	}
}

// chunkAddresses splits a filter address list so no single query exceeds size addresses.
func chunkAddresses(addresses []common.Address, size int) [][]common.Address {
	if size <= 0 {
		size = DefaultMaxAddresses
	}
	chunks := make([][]common.Address, 0, (len(addresses)+size-1)/size)
	for len(addresses) > size {
		chunks = append(chunks, addresses[:size:size])
		addresses = addresses[size:]
	}
	if len(addresses) > 0 {
		chunks = append(chunks, addresses)
	}
	return chunks
}
