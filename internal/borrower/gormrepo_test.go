package borrower

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func newMockGormRepository(t *testing.T) (*GormRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	require.NoError(t, err)

	return &GormRepository{db: gormDB}, mock, func() { sqlDB.Close() }
}

func TestGormRepositoryAdd(t *testing.T) {
	repo, mock, cleanup := newMockGormRepository(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `borrower_index`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.Add(context.Background(), common.HexToAddress("0x1"), common.HexToAddress("0xaa"))
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormRepositoryRemove(t *testing.T) {
	repo, mock, cleanup := newMockGormRepository(t)
	defer cleanup()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM `borrower_index`").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.Remove(context.Background(), common.HexToAddress("0x1"), common.HexToAddress("0xaa"))
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormRepositoryGetBorrowers(t *testing.T) {
	repo, mock, cleanup := newMockGormRepository(t)
	defer cleanup()

	user := common.HexToAddress("0xaa")
	rows := sqlmock.NewRows([]string{"id", "reserve", "user"}).
		AddRow(1, common.HexToAddress("0x1").Hex(), user.Hex())

	mock.ExpectQuery("SELECT \\* FROM `borrower_index`").WillReturnRows(rows)

	out, err := repo.GetBorrowers(context.Background(), common.HexToAddress("0x1"), 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, user, out[0])
}

func TestGormRepositoryGetBorrowersAppliesLimit(t *testing.T) {
	repo, mock, cleanup := newMockGormRepository(t)
	defer cleanup()

	rows := sqlmock.NewRows([]string{"id", "reserve", "user"}).
		AddRow(1, common.HexToAddress("0x1").Hex(), common.HexToAddress("0xaa").Hex())

	mock.ExpectQuery("SELECT \\* FROM `borrower_index`").WillReturnRows(rows)

	out, err := repo.GetBorrowers(context.Background(), common.HexToAddress("0x1"), 1)
	require.NoError(t, err)
	assert.Len(t, out, 1)
}

func TestBorrowerRecordTableName(t *testing.T) {
	rec := BorrowerRecord{}
	assert.Equal(t, "borrower_index", rec.TableName())
}
