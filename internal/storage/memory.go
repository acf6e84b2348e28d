package storage

import (
	"sync"

	"perpVault/internal/model"
)

// MemoryStorage keeps receipts in memory.
type MemoryStorage struct {
	mu       sync.Mutex
	receipts []model.Receipt
}

func (s *MemoryStorage) PutReceiptBatch(receipts []model.Receipt) error {
	s.mu.Lock()
	s.receipts = append(s.receipts, receipts...)
	s.mu.Unlock()
	return nil
}

// Receipts returns a copy of everything stored so far.
func (s *MemoryStorage) Receipts() []model.Receipt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Receipt(nil), s.receipts...)
}
