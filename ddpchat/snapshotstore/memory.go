package snapshotstore

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/vovakirdan/ddpchat-sdk-go/ddpchat"
)

// Memory keeps the last saved snapshot in process. It stores an encoded
// copy, so callers never share state with it.
type Memory struct {
	mu    sync.Mutex
	data  []byte
	saves int
}

func NewMemory() *Memory {
	return &Memory{}
}

func (m *Memory) Load(ctx context.Context) (*ddpchat.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	data := m.data
	m.mu.Unlock()
	if data == nil {
		return nil, nil
	}
	return decode(data)
}

func (m *Memory) Save(ctx context.Context, snap *ddpchat.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encode(snap)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data = data
	m.saves++
	m.mu.Unlock()
	return nil
}

// Saves returns how many snapshots were written.
func (m *Memory) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

var errNilSnapshot = errors.New("nil snapshot")

func encode(snap *ddpchat.Snapshot) ([]byte, error) {
	if snap == nil {
		return nil, errNilSnapshot
	}
	return json.Marshal(snap)
}

func decode(data []byte) (*ddpchat.Snapshot, error) {
	var snap ddpchat.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
