package borrower

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// BorrowerRecord is the relational row for one (reserve, user) pair,
// the same AutoMigrate + TableName() convention the teacher used in
// internal/db/transaction_recorder.go for AssetSnapshotRecord.
type BorrowerRecord struct {
	ID      uint   `gorm:"primaryKey;autoIncrement"`
	Reserve string `gorm:"type:char(42);not null;index:idx_reserve_user,unique"`
	User    string `gorm:"type:char(42);not null;index:idx_reserve_user,unique"`
}

func (BorrowerRecord) TableName() string { return "borrower_index" }

// GormRepository is the relational Repository backend: the "or
// relational" option SPEC_FULL §4.3 calls for, adapted from the
// teacher's MySQLRecorder rather than written from scratch.
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository opens a MySQL connection and migrates the schema,
// mirroring the teacher's NewMySQLRecorder(dsn string).
func NewGormRepository(dsn string) (*GormRepository, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("borrower: connect mysql: %w", err)
	}
	if err := db.AutoMigrate(&BorrowerRecord{}); err != nil {
		return nil, fmt.Errorf("borrower: migrate schema: %w", err)
	}
	return &GormRepository{db: db}, nil
}

func (g *GormRepository) Add(_ context.Context, reserve, user common.Address) error {
	rec := BorrowerRecord{Reserve: reserve.Hex(), User: user.Hex()}
	result := g.db.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
	if result.Error != nil {
		return fmt.Errorf("borrower: gorm add: %w", result.Error)
	}
	return nil
}

func (g *GormRepository) Remove(_ context.Context, reserve, user common.Address) error {
	result := g.db.Where("reserve = ? AND user = ?", reserve.Hex(), user.Hex()).Delete(&BorrowerRecord{})
	if result.Error != nil {
		return fmt.Errorf("borrower: gorm remove: %w", result.Error)
	}
	return nil
}

func (g *GormRepository) GetBorrowers(_ context.Context, reserve common.Address, limit int) ([]common.Address, error) {
	var rows []BorrowerRecord
	q := g.db.Where("reserve = ?", reserve.Hex())
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("borrower: gorm get: %w", err)
	}
	out := make([]common.Address, len(rows))
	for i, r := range rows {
		out[i] = common.HexToAddress(r.User)
	}
	return out, nil
}
