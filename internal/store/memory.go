package store

import (
	"context"
	"fmt"
	"maps"
	"strconv"
	"sync"
	"time"

	"github.com/Attilam21/Attila-Flagello-sub001/internal/models"
)

// Memory is an in-process Store. A single mutex serialises every operation, so
// UpdateUsage has the same check-then-write atomicity as a Firestore transaction.
// The error hooks let tests simulate backend failures.
type Memory struct {
	mu        sync.Mutex
	nextID    int
	records   map[string][]models.StoredRecord // by uid, in insertion order
	docs      map[string]map[string]any
	usage     map[string]models.UsageRecord
	mutations int

	FindErr  error
	MergeErr func(path string) error
}

func NewMemory() *Memory {
	return &Memory{
		records: map[string][]models.StoredRecord{},
		docs:    map[string]map[string]any{},
		usage:   map[string]models.UsageRecord{},
	}
}

func (m *Memory) FindRecordBySource(_ context.Context, uid, storagePath string) (*models.StoredRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FindErr != nil {
		return nil, m.FindErr
	}
	for _, r := range m.records[uid] {
		if r.Record.Source.StoragePath == storagePath {
			found := r
			return &found, nil
		}
	}
	return nil, nil
}

func (m *Memory) CreateRecord(_ context.Context, rec *models.OcrRecord) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := "rec-" + strconv.Itoa(m.nextID)
	m.records[rec.UID] = append(m.records[rec.UID], models.StoredRecord{ID: id, Record: *rec})
	m.mutations++
	return id, nil
}

func (m *Memory) MarkProjected(_ context.Context, uid, recordID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.records[uid] {
		if m.records[uid][i].ID == recordID {
			m.records[uid][i].Record.Status.Projected = true
			m.records[uid][i].Record.UpdatedAt = at
			m.mutations++
			return nil
		}
	}
	return fmt.Errorf("record %s not found", RecordPath(uid, recordID))
}

func (m *Memory) MergeDocument(_ context.Context, path string, data map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.MergeErr != nil {
		if err := m.MergeErr(path); err != nil {
			return err
		}
	}
	doc, ok := m.docs[path]
	if !ok {
		doc = map[string]any{}
		m.docs[path] = doc
	}
	mergeInto(doc, data)
	m.mutations++
	return nil
}

func (m *Memory) UpdateUsage(_ context.Context, uid, dateKey string, fn UsageTxFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	path := UsagePath(uid, dateKey)
	rec, exists := m.usage[path]
	write, err := fn(&rec, exists)
	if err != nil || !write {
		return err
	}
	m.usage[path] = rec
	m.mutations++
	return nil
}

// mergeInto applies Firestore MergeAll semantics: nested maps merge key by key,
// every other value (including slices) replaces what was there.
func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		if sub, ok := v.(map[string]any); ok {
			if existing, ok := dst[k].(map[string]any); ok {
				mergeInto(existing, sub)
				continue
			}
			dst[k] = maps.Clone(sub)
			continue
		}
		dst[k] = v
	}
}

// Records returns a copy of the records stored for uid.
func (m *Memory) Records(uid string) []models.StoredRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.StoredRecord(nil), m.records[uid]...)
}

// Document returns a shallow copy of the document at path.
func (m *Memory) Document(path string) (map[string]any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[path]
	if !ok {
		return nil, false
	}
	return maps.Clone(doc), true
}

func (m *Memory) Usage(uid, dateKey string) (models.UsageRecord, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.usage[UsagePath(uid, dateKey)]
	return rec, ok
}

// Mutations counts every successful write since creation.
func (m *Memory) Mutations() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mutations
}
