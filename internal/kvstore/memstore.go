package kvstore

import "context"

// MemStore is an in-process fake implementing Store, used by this
// repository's own tests (idiomatic Go "fake over mock" — teacher's stack
// has no mocking framework either). Not safe for cross-process use.
type MemStore struct {
	data map[string][]byte
}

func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string][]byte)}
}

func (m *MemStore) Load(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MemStore) Update(_ context.Context, key string, mutate Mutator) ([]byte, error) {
	old, exists := m.data[key]
	newValue, err := mutate(old, exists)
	if err != nil {
		return nil, err
	}
	m.data[key] = newValue
	return newValue, nil
}
