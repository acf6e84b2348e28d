package storage

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"perpVault/internal/model"
)

// JsonlStorage appends receipts to a JSONL file.
type JsonlStorage struct {
	path string
	mu   sync.Mutex
}

func NewJsonlStorage(path string) *JsonlStorage {
	return &JsonlStorage{path: path}
}

// PutReceiptBatch appends a batch of receipts as JSON lines.
func (s *JsonlStorage) PutReceiptBatch(receipts []model.Receipt) error {
	if len(receipts) == 0 {
		return nil
	}

	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open output file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	for _, receipt := range receipts {
		line, err := json.Marshal(receipt)
		if err != nil {
			return fmt.Errorf("marshal receipt line %d: %w", receipt.Line, err)
		}
		if _, err := writer.Write(line); err != nil {
			return fmt.Errorf("write receipt: %w", err)
		}
		if err := writer.WriteByte('\n'); err != nil {
			return fmt.Errorf("write newline: %w", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}

	return nil
}

// Reset truncates the output so a fresh run does not append to stale receipts.
func (s *JsonlStorage) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reset output: %w", err)
	}
	return nil
}
