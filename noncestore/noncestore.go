// Package noncestore tracks consumed authorization nonces. A nonce that
// enters the store never leaves it: authorizations carry their own expiry
// window, so retired nonces need no TTL, and a dropped record would reopen
// a replay window.
package noncestore

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// ErrNonceUsed is returned by MarkUsed when the nonce was already
// recorded. Under concurrent requests racing the same nonce exactly one
// caller sees nil; every other caller sees this error.
var ErrNonceUsed = errors.New("nonce already used")

// Store is the consumed-nonce set. MarkUsed is an atomic
// insert-if-absent: the check and the record are one operation.
type Store interface {
	Seen(ctx context.Context, nonce string) (bool, error)
	MarkUsed(ctx context.Context, nonce string) error
	Close() error
}

// normalize canonicalizes a nonce so hex-case and prefix differences
// cannot smuggle a replay past the set.
func normalize(nonce string) string {
	return strings.ToLower(strings.TrimPrefix(nonce, "0x"))
}

// MemStore is an in-memory store for tests and single-run tooling.
type MemStore struct {
	mu   sync.Mutex
	used map[string]struct{}
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{used: make(map[string]struct{})}
}

func (s *MemStore) Seen(_ context.Context, nonce string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.used[normalize(nonce)]
	return ok, nil
}

func (s *MemStore) MarkUsed(_ context.Context, nonce string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := normalize(nonce)
	if _, ok := s.used[key]; ok {
		return ErrNonceUsed
	}
	s.used[key] = struct{}{}
	return nil
}

func (s *MemStore) Close() error { return nil }

// FileStore is the durable production store: an append-only file of nonce
// lines plus an in-memory index rebuilt on open. Writes are synchronous;
// a request is not acknowledged until its nonce is on disk.
type FileStore struct {
	mu   sync.Mutex
	used map[string]struct{}
	file *os.File
}

// NewFileStore opens or creates the backing file and reloads the full set
// before returning, so a restarted server rejects nonces consumed before
// the restart.
func NewFileStore(path string) (*FileStore, error) {

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("failed to open nonce store file: %v", err)
	}

	used := make(map[string]struct{})
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		used[normalize(line)] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to reload nonce store file: %v", err)
	}

	return &FileStore{used: used, file: file}, nil
}

func (s *FileStore) Seen(_ context.Context, nonce string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.used[normalize(nonce)]
	return ok, nil
}

func (s *FileStore) MarkUsed(_ context.Context, nonce string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := normalize(nonce)
	if _, ok := s.used[key]; ok {
		return ErrNonceUsed
	}

	if _, err := s.file.WriteString(key + "\n"); err != nil {
		return fmt.Errorf("failed to append nonce: %v", err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("failed to flush nonce store: %v", err)
	}

	s.used[key] = struct{}{}
	return nil
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}
