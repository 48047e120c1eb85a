package service

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/FACorreiaa/finance-import/internal/domain/import/repository"
	"github.com/FACorreiaa/finance-import/pkg/storage"
)

// MockImportRepository is an in-memory ImportRepository that honours the
// guarded status transitions of the Postgres implementation.
type MockImportRepository struct {
	mu           sync.Mutex
	accounts     map[uuid.UUID]mockAccount
	files        map[uuid.UUID]*repository.FileRecord
	transactions []*repository.Transaction
	clock        time.Time

	err          error // returned by every call when set
	dupLookupErr error
	insertErr    func(tx *repository.Transaction) error
	finishCalls  int
}

type mockAccount struct {
	userID   uuid.UUID
	currency string
}

func NewMockImportRepository() *MockImportRepository {
	return &MockImportRepository{
		accounts: make(map[uuid.UUID]mockAccount),
		files:    make(map[uuid.UUID]*repository.FileRecord),
		clock:    time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (m *MockImportRepository) addAccount(userID uuid.UUID, currency string) uuid.UUID {
	id := uuid.New()
	m.accounts[id] = mockAccount{userID: userID, currency: currency}
	return id
}

func (m *MockImportRepository) tick() time.Time {
	m.clock = m.clock.Add(time.Second)
	return m.clock
}

func (m *MockImportRepository) GetAccountCurrency(ctx context.Context, userID, accountID uuid.UUID) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	acc, ok := m.accounts[accountID]
	if !ok || acc.userID != userID {
		return "", sql.ErrNoRows
	}
	return acc.currency, nil
}

func (m *MockImportRepository) CreateFileRecord(ctx context.Context, rec *repository.FileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for _, f := range m.files {
		if f.UserID == rec.UserID && f.FileName == rec.FileName {
			return repository.ErrDuplicateFile
		}
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	rec.CreatedAt = m.tick()
	rec.UpdatedAt = rec.CreatedAt
	if rec.ErrorLog == nil {
		rec.ErrorLog = []repository.ErrorEntry{}
	}
	stored := *rec
	m.files[rec.ID] = &stored
	return nil
}

func (m *MockImportRepository) GetFileRecord(ctx context.Context, userID, fileID uuid.UUID) (*repository.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	f, ok := m.files[fileID]
	if !ok || f.UserID != userID {
		return nil, sql.ErrNoRows
	}
	cp := *f
	return &cp, nil
}

func (m *MockImportRepository) ListFileRecords(ctx context.Context, userID uuid.UUID) ([]*repository.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []*repository.FileRecord
	for _, f := range m.files {
		if f.UserID == userID {
			cp := *f
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MockImportRepository) MarkValidated(ctx context.Context, userID, fileID uuid.UUID, mapping map[string]string) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return time.Time{}, m.err
	}
	f, ok := m.files[fileID]
	if !ok || f.UserID != userID || f.Status != repository.StatusPending {
		return time.Time{}, repository.ErrStatusConflict
	}
	f.MappedHeaders = mapping
	f.Status = repository.StatusValidated
	f.UpdatedAt = m.tick()
	return f.UpdatedAt, nil
}

func (m *MockImportRepository) MarkFinished(ctx context.Context, userID, fileID uuid.UUID, status repository.FileStatus, errorLog []repository.ErrorEntry, counts repository.ImportCounts) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finishCalls++
	if m.err != nil {
		return time.Time{}, m.err
	}
	f, ok := m.files[fileID]
	if !ok || f.UserID != userID || f.Status != repository.StatusValidated {
		return time.Time{}, repository.ErrStatusConflict
	}
	if errorLog == nil {
		errorLog = []repository.ErrorEntry{}
	}
	f.Status = status
	f.ErrorLog = errorLog
	f.RowsTotal = counts.Total
	f.RowsImported = counts.Imported
	f.RowsDuplicate = counts.Duplicate
	f.RowsFailed = counts.Failed
	f.UpdatedAt = m.tick()
	return f.UpdatedAt, nil
}

func (m *MockImportRepository) ListStalePending(ctx context.Context, createdBefore time.Time, limit int) ([]*repository.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []*repository.FileRecord
	for _, f := range m.files {
		if f.Status == repository.StatusPending && f.CreatedAt.Before(createdBefore) {
			cp := *f
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockImportRepository) DeleteFileRecord(ctx context.Context, userID, fileID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	f, ok := m.files[fileID]
	if !ok || f.UserID != userID {
		return sql.ErrNoRows
	}
	delete(m.files, fileID)
	for _, tx := range m.transactions {
		if tx.FileID != nil && *tx.FileID == fileID {
			tx.FileID = nil
		}
	}
	return nil
}

func (m *MockImportRepository) FindDuplicateTransaction(ctx context.Context, accountID uuid.UUID, merchant string, postedOn time.Time, amountMinor int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dupLookupErr != nil {
		return false, m.dupLookupErr
	}
	for _, tx := range m.transactions {
		if tx.AccountID == accountID && tx.Merchant == merchant && tx.PostedOn.Equal(postedOn) && tx.AmountMinor == amountMinor {
			return true, nil
		}
	}
	return false, nil
}

func (m *MockImportRepository) CreateTransaction(ctx context.Context, tx *repository.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertErr != nil {
		if err := m.insertErr(tx); err != nil {
			return err
		}
	}
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	tx.CreatedAt = m.tick()
	m.transactions = append(m.transactions, tx)
	return nil
}

func (m *MockImportRepository) transactionsForAccount(accountID uuid.UUID) []*repository.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*repository.Transaction
	for _, tx := range m.transactions {
		if tx.AccountID == accountID {
			out = append(out, tx)
		}
	}
	return out
}

// memStorage keeps uploads in memory. openErr and readErrAfter simulate a
// source that disappears or breaks between calls.
type memStorage struct {
	mu           sync.Mutex
	objects      map[string][]byte
	openErr      error
	readErrAfter int // bytes served before failing, when > 0
	deleted      []string
}

func newMemStorage() *memStorage {
	return &memStorage{objects: make(map[string][]byte)}
}

func (s *memStorage) Save(ctx context.Context, userID uuid.UUID, filename string, r io.Reader) (*storage.FileInfo, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	path := fmt.Sprintf("%s/%s_%s", userID, uuid.NewString()[:8], filename)
	s.objects[path] = data
	return &storage.FileInfo{Name: filename, Size: int64(len(data)), Path: path, CreatedAt: time.Now()}, nil
}

func (s *memStorage) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return nil, s.openErr
	}
	data, ok := s.objects[path]
	if !ok {
		return nil, storage.ErrNotFound
	}
	var r io.Reader = bytes.NewReader(data)
	if s.readErrAfter > 0 {
		r = io.MultiReader(io.LimitReader(bytes.NewReader(data), int64(s.readErrAfter)), errReader{})
	}
	return io.NopCloser(r), nil
}

func (s *memStorage) Delete(ctx context.Context, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, path)
	s.deleted = append(s.deleted, path)
	return nil
}

func (s *memStorage) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) { return 0, errors.New("connection reset by peer") }
