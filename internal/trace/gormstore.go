package trace

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/avalnetsec/liquidator/pkg/types"
)

// DecisionRecord is the relational row for one DecisionTrace, the same
// AutoMigrate + TableName() convention the teacher used for
// AssetSnapshotRecord in internal/db/transaction_recorder.go, re-homed
// here for decision-trace persistence instead of DEX asset snapshots.
type DecisionRecord struct {
	ID           string `gorm:"primaryKey;type:char(36)"`
	Timestamp    time.Time
	User         string `gorm:"type:char(42);index"`
	DebtAsset    string `gorm:"type:char(42)"`
	Collateral   string `gorm:"type:char(42)"`
	HealthFactor string `gorm:"type:varchar(80)"`
	Action       int
	SkipReason   int
	PriceSource  int
	HeadLag      uint64
	AttemptHash  string `gorm:"type:char(66)"`
	AttemptMeta  string `gorm:"type:text"`
}

func (DecisionRecord) TableName() string { return "decision_trace" }

// GormStore is the optional durable sink for decision traces, written
// alongside (never instead of) the in-memory ring buffer.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens a MySQL connection and migrates the schema,
// mirroring the teacher's NewMySQLRecorder(dsn string).
func NewGormStore(dsn string) (*GormStore, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("trace: connect mysql: %w", err)
	}
	if err := db.AutoMigrate(&DecisionRecord{}); err != nil {
		return nil, fmt.Errorf("trace: migrate schema: %w", err)
	}
	return &GormStore{db: db}, nil
}

// Persist writes rec as a DecisionRecord row.
func (g *GormStore) Persist(_ context.Context, rec types.DecisionTrace) error {
	hf := ""
	if rec.HealthFactor != nil {
		hf = rec.HealthFactor.String()
	}
	row := DecisionRecord{
		ID:           rec.ID,
		Timestamp:    rec.Timestamp,
		User:         rec.User.Hex(),
		DebtAsset:    rec.DebtAsset.Hex(),
		Collateral:   rec.Collateral.Hex(),
		HealthFactor: hf,
		Action:       int(rec.Action),
		SkipReason:   int(rec.SkipReason),
		PriceSource:  int(rec.PriceSource),
		HeadLag:      rec.HeadLag,
		AttemptHash:  rec.AttemptHash.Hex(),
		AttemptMeta:  rec.AttemptMeta,
	}
	if result := g.db.Create(&row); result.Error != nil {
		return fmt.Errorf("trace: gorm persist: %w", result.Error)
	}
	return nil
}

// RecentForUser loads the most recent n rows for user, newest first,
// used to reconstruct find_decision lookups beyond the in-memory TTL.
func (g *GormStore) RecentForUser(_ context.Context, user common.Address, n int) ([]types.DecisionTrace, error) {
	var rows []DecisionRecord
	q := g.db.Where("user = ?", user.Hex()).Order("timestamp DESC")
	if n > 0 {
		q = q.Limit(n)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("trace: gorm recent: %w", err)
	}
	out := make([]types.DecisionTrace, len(rows))
	for i, r := range rows {
		out[i] = types.DecisionTrace{
			ID:          r.ID,
			Timestamp:   r.Timestamp,
			User:        common.HexToAddress(r.User),
			DebtAsset:   common.HexToAddress(r.DebtAsset),
			Collateral:  common.HexToAddress(r.Collateral),
			Action:      types.DecisionAction(r.Action),
			SkipReason:  types.SkipReason(r.SkipReason),
			PriceSource: types.OracleSource(r.PriceSource),
			HeadLag:     r.HeadLag,
			AttemptHash: common.HexToHash(r.AttemptHash),
			AttemptMeta: r.AttemptMeta,
		}
	}
	return out, nil
}
