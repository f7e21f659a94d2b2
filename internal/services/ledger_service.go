package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pixmora/backend/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LedgerService owns the append-only credit ledger. Balance mutations for the
// same user are serialized through a per-user mutex; different users never
// contend. The cached running total on the user row is updated in the same
// transaction as each entry, so it can only drift if rows are edited by hand.
type LedgerService struct {
	db    *gorm.DB
	locks sync.Map // uuid.UUID -> *sync.Mutex
}

func NewLedgerService(db *gorm.DB) *LedgerService {
	return &LedgerService{db: db}
}

// lockUser enters the per-user critical section and returns the unlock func.
func (s *LedgerService) lockUser(userID uuid.UUID) func() {
	v, _ := s.locks.LoadOrStore(userID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Grant appends a positive entry. Idempotent per sourceEventID: a second call
// for the same source event returns the original entry without side effects.
func (s *LedgerService) Grant(ctx context.Context, userID uuid.UUID, amount int64, reason, note string, sourceEventID *string) (*models.LedgerEntry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("grant amount must be positive, got %d", amount)
	}

	unlock := s.lockUser(userID)
	defer unlock()

	var entry *models.LedgerEntry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		entry, err = s.grantTx(tx, userID, amount, reason, note, sourceEventID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// grantTx runs inside an existing transaction. The caller must already hold
// the user's lock (the reconciler takes it around the whole event commit).
func (s *LedgerService) grantTx(tx *gorm.DB, userID uuid.UUID, amount int64, reason, note string, sourceEventID *string) (*models.LedgerEntry, error) {
	entry := models.LedgerEntry{
		ID:            uuid.New(),
		UserID:        userID,
		Amount:        amount,
		Reason:        reason,
		Note:          note,
		SourceEventID: sourceEventID,
	}

	res := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "source_event_id"}},
		DoNothing: true,
	}).Create(&entry)
	if res.Error != nil {
		return nil, res.Error
	}

	if res.RowsAffected == 0 {
		// Replay: the grant for this source event already exists.
		var existing models.LedgerEntry
		if err := tx.Where("source_event_id = ?", sourceEventID).First(&existing).Error; err != nil {
			return nil, err
		}
		return &existing, nil
	}

	if err := tx.Model(&models.User{}).Where("id = ?", userID).
		UpdateColumn("credit_balance", gorm.Expr("credit_balance + ?", amount)).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

// Debit appends a negative entry, rejecting with ErrInsufficientBalance if
// the resulting balance would go negative. Never partially applies.
func (s *LedgerService) Debit(ctx context.Context, userID uuid.UUID, amount int64, reason string) (*models.LedgerEntry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("debit amount must be positive, got %d", amount)
	}

	unlock := s.lockUser(userID)
	defer unlock()

	var entry models.LedgerEntry
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		balance, err := sumEntries(tx, userID)
		if err != nil {
			return err
		}
		if balance-amount < 0 {
			return ErrInsufficientBalance
		}

		entry = models.LedgerEntry{
			ID:     uuid.New(),
			UserID: userID,
			Amount: -amount,
			Reason: reason,
		}
		if err := tx.Create(&entry).Error; err != nil {
			return err
		}
		return tx.Model(&models.User{}).Where("id = ?", userID).
			UpdateColumn("credit_balance", gorm.Expr("credit_balance - ?", amount)).Error
	})
	if err != nil {
		return nil, err
	}
	return &entry, nil
}

// Balance derives the balance from the entries, not from the cached total.
func (s *LedgerService) Balance(ctx context.Context, userID uuid.UUID) (int64, error) {
	return sumEntries(s.db.WithContext(ctx), userID)
}

// Entries lists a user's most recent ledger entries.
func (s *LedgerService) Entries(ctx context.Context, userID uuid.UUID, limit int) ([]models.LedgerEntry, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	var entries []models.LedgerEntry
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&entries).Error
	return entries, err
}

func sumEntries(tx *gorm.DB, userID uuid.UUID) (int64, error) {
	var balance int64
	err := tx.Model(&models.LedgerEntry{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&balance).Error
	return balance, err
}
