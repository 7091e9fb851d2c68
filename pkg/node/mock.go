package node

import (
	"fmt"
	"sync"

	obscura "github.com/obscuranet/obscurawallet/pkg"
	"github.com/obscuranet/obscurawallet/pkg/obx"
)

// interface guard ensures MockL1 implements obscura.L1
var _ obscura.L1 = &MockL1{}

// MockL1 is an in-memory ledger for tests and local development.
// Submitted transactions are mined into the next block immediately.
type MockL1 struct {
	mu        sync.Mutex
	blocks    []obscura.Block
	Submitted []obscura.TxProposal
}

func NewMockL1() *MockL1 {
	return &MockL1{}
}

// AddBlock appends a block of externally produced outputs and spends.
// Returns the new block's height.
func (m *MockL1) AddBlock(txOuts []obx.TxOut, keyImages [][]byte) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	height := int64(len(m.blocks))
	m.blocks = append(m.blocks, obscura.Block{Height: height, TxOuts: txOuts, KeyImages: keyImages})
	return height
}

func (m *MockL1) GetBlockCount() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.blocks)), nil
}

func (m *MockL1) GetBlock(height int64) (obscura.Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if height < 0 || height >= int64(len(m.blocks)) {
		return obscura.Block{}, fmt.Errorf("no block at height %d", height)
	}
	return m.blocks[height], nil
}

func (m *MockL1) SubmitTx(proposal obscura.TxProposal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keyImages [][]byte
	for _, input := range proposal.InputTxos {
		if input.KeyImage == nil {
			return fmt.Errorf("input %s has no key image", input.TxoID)
		}
		keyImages = append(keyImages, input.KeyImage)
	}
	height := int64(len(m.blocks))
	if proposal.TombstoneBlockHeight > 0 && height > proposal.TombstoneBlockHeight {
		return fmt.Errorf("transaction tombstone %d exceeded at height %d", proposal.TombstoneBlockHeight, height)
	}
	m.blocks = append(m.blocks, obscura.Block{Height: height, TxOuts: proposal.OutputTxOuts, KeyImages: keyImages})
	m.Submitted = append(m.Submitted, proposal)
	return nil
}
