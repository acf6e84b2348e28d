package storage

import "perpVault/internal/model"

// Storage defines a sink for replay receipts.
type Storage interface {
	PutReceiptBatch(receipts []model.Receipt) error
}
