package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BradenHooton/pitlane/internal/models"
	"github.com/google/uuid"
)

// MemoryCredentialRepository is a process-local credential store for
// development and tests
type MemoryCredentialRepository struct {
	mu    sync.RWMutex
	creds map[string]models.Credential
	now   func() time.Time
}

func NewMemoryCredentialRepository() *MemoryCredentialRepository {
	return &MemoryCredentialRepository{
		creds: make(map[string]models.Credential),
		now:   time.Now,
	}
}

func (r *MemoryCredentialRepository) FindByEmail(ctx context.Context, email string) (*models.Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cred, ok := r.creds[models.NormalizeEmail(email)]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &cred, nil
}

func (r *MemoryCredentialRepository) Create(ctx context.Context, cred *models.Credential) (*models.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	email := models.NormalizeEmail(cred.Email)
	if _, exists := r.creds[email]; exists {
		return nil, models.ErrConflict
	}

	now := r.now()
	stored := *cred
	stored.ID = uuid.New().String()
	stored.Email = email
	stored.CreatedAt = now
	stored.UpdatedAt = now
	r.creds[email] = stored

	return &stored, nil
}

func (r *MemoryCredentialRepository) Upsert(ctx context.Context, cred *models.Credential) (*models.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	email := models.NormalizeEmail(cred.Email)
	now := r.now()

	stored, exists := r.creds[email]
	if !exists {
		stored = models.Credential{ID: uuid.New().String(), Email: email, CreatedAt: now}
	}
	stored.PasswordHash = cred.PasswordHash
	stored.PasswordChangedAt = cred.PasswordChangedAt
	stored.UpdatedAt = now
	r.creds[email] = stored

	return &stored, nil
}

// SwapPassword replaces the password only while the stored hash equals expectedHash
func (r *MemoryCredentialRepository) SwapPassword(ctx context.Context, next *models.Credential, expectedHash string) (*models.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	email := models.NormalizeEmail(next.Email)
	stored, ok := r.creds[email]
	if !ok || stored.PasswordHash != expectedHash {
		return nil, models.ErrConflict
	}

	stored.PasswordHash = next.PasswordHash
	stored.PasswordChangedAt = next.PasswordChangedAt
	stored.UpdatedAt = r.now()
	r.creds[email] = stored

	return &stored, nil
}

// MemoryOTPRepository keeps sealed OTP records in a map guarded by a mutex,
// which makes every conditional write atomic
type MemoryOTPRepository struct {
	mu      sync.Mutex
	records map[string]models.StoredOTP
}

func NewMemoryOTPRepository() *MemoryOTPRepository {
	return &MemoryOTPRepository{records: make(map[string]models.StoredOTP)}
}

func (r *MemoryOTPRepository) Get(ctx context.Context, email string) (*models.StoredOTP, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[email]
	if !ok {
		return nil, models.ErrNotFound
	}
	return &rec, nil
}

func (r *MemoryOTPRepository) Put(ctx context.Context, rec *models.StoredOTP) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.records[rec.Email] = *rec
	return nil
}

func (r *MemoryOTPRepository) Swap(ctx context.Context, next *models.StoredOTP, expectedRevision string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.records[next.Email]
	if !ok || current.Revision != expectedRevision {
		return models.ErrConflict
	}
	r.records[next.Email] = *next
	return nil
}

func (r *MemoryOTPRepository) Remove(ctx context.Context, email, revision string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.records[email]
	if !ok {
		return nil
	}
	if current.Revision != revision {
		return models.ErrConflict
	}
	delete(r.records, email)
	return nil
}

func (r *MemoryOTPRepository) Delete(ctx context.Context, email string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.records, email)
	return nil
}

func (r *MemoryOTPRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed int64
	for email, rec := range r.records {
		if rec.ExpiresAt.Before(now) {
			delete(r.records, email)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of stored records
func (r *MemoryOTPRepository) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// MemoryOTPIssuanceRepository keeps a bounded issuance history per email
type MemoryOTPIssuanceRepository struct {
	mu      sync.Mutex
	history map[string][]time.Time
}

func NewMemoryOTPIssuanceRepository() *MemoryOTPIssuanceRepository {
	return &MemoryOTPIssuanceRepository{history: make(map[string][]time.Time)}
}

func (r *MemoryOTPIssuanceRepository) RecordIssuance(ctx context.Context, email string, at time.Time, keep int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := append(r.history[email], at)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Before(entries[j]) })
	if keep > 0 && len(entries) > keep {
		entries = append([]time.Time(nil), entries[len(entries)-keep:]...)
	}
	r.history[email] = entries
	return nil
}

func (r *MemoryOTPIssuanceRepository) IssuancesSince(ctx context.Context, email string, since time.Time) ([]time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []time.Time
	for _, t := range r.history[email] {
		if t.After(since) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (r *MemoryOTPIssuanceRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed int64
	for email, entries := range r.history {
		kept := entries[:0]
		for _, t := range entries {
			if t.Before(cutoff) {
				removed++
				continue
			}
			kept = append(kept, t)
		}
		if len(kept) == 0 {
			delete(r.history, email)
		} else {
			r.history[email] = kept
		}
	}
	return removed, nil
}

// Count returns the number of retained entries for email
func (r *MemoryOTPIssuanceRepository) Count(email string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.history[email])
}
