package trace

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/avalnetsec/liquidator/pkg/types"
)

func newMockStore(t *testing.T) (*GormStore, sqlmock.Sqlmock, func()) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	require.NoError(t, err)

	return &GormStore{db: gormDB}, mock, func() { sqlDB.Close() }
}

func TestGormStorePersist(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `decision_trace`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	rec := types.DecisionTrace{
		ID:        "trace-1",
		Timestamp: time.Now(),
		User:      common.HexToAddress("0x1"),
		Action:    types.ActionAttempt,
	}

	err := store.Persist(context.Background(), rec)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormStoreRecentForUser(t *testing.T) {
	store, mock, cleanup := newMockStore(t)
	defer cleanup()

	user := common.HexToAddress("0x1")
	rows := sqlmock.NewRows([]string{"id", "timestamp", "user", "debt_asset", "collateral", "health_factor", "action", "skip_reason", "price_source", "head_lag", "attempt_hash", "attempt_meta"}).
		AddRow("trace-1", time.Now(), user.Hex(), common.Address{}.Hex(), common.Address{}.Hex(), "1000000000000000000", 1, 0, 0, 0, common.Hash{}.Hex(), "")

	mock.ExpectQuery("SELECT \\* FROM `decision_trace`").WillReturnRows(rows)

	out, err := store.RecentForUser(context.Background(), user, 10)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, user, out[0].User)
	assert.Equal(t, types.ActionAttempt, out[0].Action)
}

func TestDecisionRecordTableName(t *testing.T) {
	rec := DecisionRecord{}
	assert.Equal(t, "decision_trace", rec.TableName())
}
