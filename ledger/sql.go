package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"stakepool/crypto"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrAmountTooLarge is returned for amounts the SQL backend cannot store.
// Balances live in signed 64-bit columns.
var ErrAmountTooLarge = errors.New("ledger: amount exceeds storable range")

// Account is the persisted balance row.
type Account struct {
	Address   string `gorm:"primaryKey;size:64"`
	Balance   int64  `gorm:"not null;default:0"`
	UpdatedAt time.Time
}

// TransferRecord is an audit row written alongside every balance movement.
type TransferRecord struct {
	ID        uint   `gorm:"primaryKey"`
	Source    string `gorm:"size:64;index"`
	Target    string `gorm:"size:64;index"`
	Amount    int64
	CreatedAt time.Time
}

// SQL is a ledger persisted through gorm. Each transfer runs in one database
// transaction with a conditional debit.
type SQL struct {
	db    *gorm.DB
	clock Clock
}

// OpenSQL connects to driver ("sqlite" or "postgres") at dsn and migrates the
// ledger tables.
func OpenSQL(driver, dsn string, clock Clock) (*SQL, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case "", DriverSQLite:
		if strings.TrimSpace(dsn) == "" {
			return nil, errors.New("ledger: sqlite dsn required")
		}
		dialector = sqlite.Open(dsn)
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("ledger: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("ledger: open database: %w", err)
	}
	return NewSQL(db, clock)
}

// NewSQL wraps an existing gorm handle.
func NewSQL(db *gorm.DB, clock Clock) (*SQL, error) {
	if db == nil {
		return nil, errors.New("ledger: nil database")
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if err := db.AutoMigrate(&Account{}, &TransferRecord{}); err != nil {
		return nil, fmt.Errorf("ledger: migrate: %w", err)
	}
	return &SQL{db: db, clock: clock}, nil
}

// Close releases the underlying connection pool.
func (s *SQL) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Fund credits amount to account outside of any transfer.
func (s *SQL) Fund(ctx context.Context, account crypto.Address, amount uint64) error {
	if amount > math.MaxInt64 {
		return ErrAmountTooLarge
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return credit(tx, account.Hex(), int64(amount))
	})
}

// Transfer implements the engine ledger contract.
func (s *SQL) Transfer(ctx context.Context, from, to crypto.Address, amount uint64) error {
	if from == to {
		return ErrSelfTransfer
	}
	if amount == 0 {
		return ctx.Err()
	}
	if amount > math.MaxInt64 {
		return ErrAmountTooLarge
	}
	value := int64(amount)
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		debit := tx.Model(&Account{}).
			Where("address = ? AND balance >= ?", from.Hex(), value).
			Updates(map[string]interface{}{
				"balance":    gorm.Expr("balance - ?", value),
				"updated_at": time.Now().UTC(),
			})
		if debit.Error != nil {
			return fmt.Errorf("ledger: debit: %w", debit.Error)
		}
		if debit.RowsAffected == 0 {
			return fmt.Errorf("%w: %s cannot cover %d", ErrInsufficientFunds, from, amount)
		}
		if err := credit(tx, to.Hex(), value); err != nil {
			return err
		}
		return tx.Create(&TransferRecord{Source: from.Hex(), Target: to.Hex(), Amount: value}).Error
	})
}

func credit(tx *gorm.DB, address string, value int64) error {
	var row Account
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where(Account{Address: address}).
		FirstOrCreate(&row).Error; err != nil {
		return fmt.Errorf("ledger: load account: %w", err)
	}
	if row.Balance > math.MaxInt64-value {
		return ErrBalanceOverflow
	}
	res := tx.Model(&Account{}).
		Where("address = ?", address).
		Updates(map[string]interface{}{
			"balance":    gorm.Expr("balance + ?", value),
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return fmt.Errorf("ledger: credit: %w", res.Error)
	}
	return nil
}

// Balance implements the engine ledger contract.
func (s *SQL) Balance(ctx context.Context, account crypto.Address) (uint64, error) {
	var row Account
	err := s.db.WithContext(ctx).Where("address = ?", account.Hex()).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("ledger: balance: %w", err)
	}
	if row.Balance < 0 {
		return 0, fmt.Errorf("ledger: negative balance for %s", account)
	}
	return uint64(row.Balance), nil
}

// Now implements the engine ledger contract.
func (s *SQL) Now() time.Time { return s.clock.Now() }
