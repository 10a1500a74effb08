package borrower

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelDBRepository is the durable, single-process KV backend: a
// "distributed key/value" stand-in per SPEC_FULL §4.3. goleveldb is
// already an indirect dependency of the teacher's go.mod (pulled in
// transitively by go-ethereum); this promotes it to direct use as the
// borrower index's durable backend, keyed by `reserve || user` so a
// prefix scan over one reserve is a single range iteration.
type LevelDBRepository struct {
	db *leveldb.DB
}

// OpenLevelDBRepository opens (or creates) a goleveldb database at path.
func OpenLevelDBRepository(path string) (*LevelDBRepository, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("borrower: open leveldb at %s: %w", path, err)
	}
	return &LevelDBRepository{db: db}, nil
}

func (r *LevelDBRepository) Close() error { return r.db.Close() }

func key(reserve, user common.Address) []byte {
	k := make([]byte, 0, 40)
	k = append(k, reserve.Bytes()...)
	k = append(k, user.Bytes()...)
	return k
}

func (r *LevelDBRepository) Add(_ context.Context, reserve, user common.Address) error {
	if err := r.db.Put(key(reserve, user), []byte{1}, nil); err != nil {
		return fmt.Errorf("borrower: leveldb put: %w", err)
	}
	return nil
}

func (r *LevelDBRepository) Remove(_ context.Context, reserve, user common.Address) error {
	if err := r.db.Delete(key(reserve, user), nil); err != nil {
		return fmt.Errorf("borrower: leveldb delete: %w", err)
	}
	return nil
}

func (r *LevelDBRepository) GetBorrowers(_ context.Context, reserve common.Address, limit int) ([]common.Address, error) {
	prefix := reserve.Bytes()
	iter := r.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	var out []common.Address
	for iter.Next() {
		k := iter.Key()
		if len(k) != 40 {
			continue
		}
		out = append(out, common.BytesToAddress(k[20:]))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("borrower: leveldb iterate: %w", err)
	}
	return out, nil
}
