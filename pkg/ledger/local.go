package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"
)

const (
	DefaultLedgerFileName = ".swapbot-ledger.json"
)

// LocalStore keeps the ledger in memory and, when it has a file path,
// mirrors every write to a JSON file.
type LocalStore struct {
	filePath string
	mu       sync.RWMutex
	users    map[int64]*User
	records  map[string]*Record
	now      func() time.Time
}

// localFile represents the JSON structure for storage
type localFile struct {
	Users   map[string]*User   `json:"users"`
	Records map[string]*Record `json:"records"`
}

// NewMemoryStore creates a ledger that lives only as long as the process.
func NewMemoryStore() *LocalStore {
	return &LocalStore{
		users:   make(map[int64]*User),
		records: make(map[string]*Record),
		now:     time.Now,
	}
}

// OpenFileStore creates a ledger persisted to filePath, loading any
// existing content. An empty path selects ~/.swapbot-ledger.json.
func OpenFileStore(filePath string) (*LocalStore, error) {
	if filePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		filePath = filepath.Join(home, DefaultLedgerFileName)
	}

	s := NewMemoryStore()
	s.filePath = filePath

	if err := s.load(); err != nil {
		// A missing file is created on first save.
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load ledger: %w", err)
		}
	}
	return s, nil
}

func (s *LocalStore) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.filePath)
	if err != nil {
		return err
	}

	var f localFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to unmarshal ledger: %w", err)
	}

	for key, u := range f.Users {
		id, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid user key %q: %w", key, err)
		}
		s.users[id] = u
	}
	for sig, r := range f.Records {
		s.records[sig] = r
	}
	return nil
}

// saveLocked writes the ledger to disk. Callers hold the write lock.
func (s *LocalStore) saveLocked() error {
	if s.filePath == "" {
		return nil
	}

	f := localFile{
		Users:   make(map[string]*User, len(s.users)),
		Records: s.records,
	}
	for id, u := range s.users {
		f.Users[strconv.FormatInt(id, 10)] = u
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal ledger: %w", err)
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Write to temporary file first, then rename for atomic write
	tempFile := s.filePath + ".tmp"
	if err := os.WriteFile(tempFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write ledger: %w", err)
	}
	if err := os.Rename(tempFile, s.filePath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// RegisterUser creates the user or replaces its addresses.
func (s *LocalStore) RegisterUser(_ context.Context, user *User) error {
	if user == nil || user.ID == 0 {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if existing, ok := s.users[user.ID]; ok {
		existing.SourceAddress = user.SourceAddress
		existing.DestinationAddress = user.DestinationAddress
		existing.UpdatedAt = now
		return s.saveLocked()
	}

	s.users[user.ID] = &User{
		ID:                 user.ID,
		SourceAddress:      user.SourceAddress,
		DestinationAddress: user.DestinationAddress,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	return s.saveLocked()
}

func (s *LocalStore) GetUser(_ context.Context, id int64) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(u), nil
}

func (s *LocalStore) MarkProcessed(_ context.Context, userID int64, signature string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return false, ErrNotFound
	}
	for _, p := range u.Processed {
		if p.Signature == signature {
			return false, nil
		}
	}
	u.Processed = append(u.Processed, ProcessedSignature{Signature: signature, At: s.now()})
	return true, s.saveLocked()
}

func (s *LocalStore) IsProcessed(_ context.Context, userID int64, signature string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return false, ErrNotFound
	}
	for _, p := range u.Processed {
		if p.Signature == signature {
			return true, nil
		}
	}
	return false, nil
}

func (s *LocalStore) PruneProcessed(_ context.Context, userID int64, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[userID]
	if !ok {
		return 0, ErrNotFound
	}

	kept := u.Processed[:0]
	for _, p := range u.Processed {
		if !p.At.Before(cutoff) {
			kept = append(kept, p)
		}
	}
	removed := len(u.Processed) - len(kept)
	u.Processed = kept
	if removed == 0 {
		return 0, nil
	}
	return removed, s.saveLocked()
}

func (s *LocalStore) Create(_ context.Context, record *Record) error {
	if record == nil || record.Signature == "" || !record.Stage.Valid() {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[record.Signature]; exists {
		return ErrDuplicateKey
	}

	r := copyRecord(record)
	now := s.now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	s.records[r.Signature] = r
	return s.saveLocked()
}

func (s *LocalStore) Advance(_ context.Context, signature string, stage Stage, update Update) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[signature]
	if !ok {
		return nil, ErrNotFound
	}
	if r.Stage.Terminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrTerminal, signature, r.Stage)
	}
	if !CanAdvance(r.Stage, stage) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Stage, stage)
	}

	r.Stage = stage
	update.apply(r)
	r.UpdatedAt = s.now()
	if err := s.saveLocked(); err != nil {
		return nil, err
	}
	return copyRecord(r), nil
}

func (s *LocalStore) FindBySignature(_ context.Context, signature string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[signature]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRecord(r), nil
}

// FindByUser returns the user's records, newest first.
func (s *LocalStore) FindByUser(_ context.Context, userID int64) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Record, 0)
	for _, r := range s.records {
		if r.UserID == userID {
			out = append(out, copyRecord(r))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *LocalStore) FindByOrderID(_ context.Context, orderID string) (*Record, error) {
	if orderID == "" {
		return nil, ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.records {
		if r.ExchangeOrderID == orderID {
			return copyRecord(r), nil
		}
	}
	return nil, ErrNotFound
}

// Close is a no-op; every write is already on disk.
func (s *LocalStore) Close(context.Context) error {
	return nil
}

// GetFilePath returns the storage file path
func (s *LocalStore) GetFilePath() string {
	return s.filePath
}

func copyUser(u *User) *User {
	c := *u
	c.Processed = append([]ProcessedSignature(nil), u.Processed...)
	return &c
}

func copyRecord(r *Record) *Record {
	c := *r
	c.SwapAttempts = append([]SwapAttempt(nil), r.SwapAttempts...)
	c.TransferSignatures = append([]string(nil), r.TransferSignatures...)
	if r.LandedSlot != nil {
		slot := *r.LandedSlot
		c.LandedSlot = &slot
	}
	return &c
}
