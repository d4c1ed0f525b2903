package exchange

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// NonceStore issues strictly increasing nonces for authenticated requests.
// Next must persist the issued value before returning it, so a crash between
// issue and send can never replay a nonce.
type NonceStore interface {
	Next() (uint64, error)
	// Reset forces the counter to the exchange-provided minimum after a
	// "nonce too low" rejection. The next issued nonce is value+1.
	Reset(value uint64) error
}

// FileNonceStore keeps the nonce counter in a single plain-text file.
type FileNonceStore struct {
	path  string
	value uint64
}

// NewFileNonceStore loads the persisted counter, starting at zero when the
// file does not exist yet.
func NewFileNonceStore(path string) (*FileNonceStore, error) {
	store := &FileNonceStore{path: path}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return store, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read nonce file: %w", err)
	}

	parsed, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse nonce file %s: %w", path, err)
	}
	store.value = parsed
	return store, nil
}

// Next increments the counter, commits it to disk, and returns it.
func (s *FileNonceStore) Next() (uint64, error) {
	s.value++
	if err := s.commit(); err != nil {
		s.value--
		return 0, err
	}
	return s.value, nil
}

// Reset moves the counter to the exchange-provided value.
func (s *FileNonceStore) Reset(value uint64) error {
	previous := s.value
	s.value = value
	if err := s.commit(); err != nil {
		s.value = previous
		return err
	}
	return nil
}

func (s *FileNonceStore) commit() error {
	if err := os.WriteFile(s.path, []byte(strconv.FormatUint(s.value, 10)), 0o600); err != nil {
		return fmt.Errorf("persist nonce: %w", err)
	}
	return nil
}

// MemoryNonceStore is an in-memory NonceStore for tests and dry runs.
type MemoryNonceStore struct {
	value uint64
}

// Next increments and returns the counter.
func (s *MemoryNonceStore) Next() (uint64, error) {
	s.value++
	return s.value, nil
}

// Reset moves the counter to the given value.
func (s *MemoryNonceStore) Reset(value uint64) error {
	s.value = value
	return nil
}

var (
	_ NonceStore = (*FileNonceStore)(nil)
	_ NonceStore = (*MemoryNonceStore)(nil)
)
