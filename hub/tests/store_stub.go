package tests

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"
)

// StoreStub is an in-memory object store that records every delete so
// tests can assert which keys the deletion workflow touched. Setting
// FailDeletes makes every Delete call return an error.
type StoreStub struct {
	mu sync.Mutex

	objects     map[string][]byte
	deletedKeys []string

	FailDeletes bool
}

func newStoreStub() *StoreStub {
	return &StoreStub{objects: make(map[string][]byte)}
}

func (s *StoreStub) Put(ctx context.Context, key string, data io.Reader, size int64, contentType string) error {
	content, err := io.ReadAll(data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = content
	return nil
}

func (s *StoreStub) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailDeletes {
		return errors.New("object store unavailable")
	}

	delete(s.objects, key)
	s.deletedKeys = append(s.deletedKeys, key)
	return nil
}

func (s *StoreStub) Presign(ctx context.Context, key string, expiry time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.objects[key]; !ok {
		return "", fmt.Errorf("no object for key %v", key)
	}
	return "https://storage.test/" + key, nil
}

func (s *StoreStub) DeletedKeys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.deletedKeys...)
}

func (s *StoreStub) HasObject(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok
}
