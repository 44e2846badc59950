package visitors

import (
	"time"

	bbolt "go.etcd.io/bbolt"

	"github.com/haukened/rr-portal/internal/portal/domain"
)

var bucketVisitors = []byte("visitors")

// boltStore implements Store using bbolt.
type boltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens (or creates) a Bolt database at path and ensures the
// visitors bucket exists.
func NewBoltStore(path string) (Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketVisitors)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &boltStore{db: db}, nil
}

func (s *boltStore) Get(addr string) (domain.Visitor, bool, error) {
	var (
		v     domain.Visitor
		found bool
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketVisitors).Get([]byte(addr))
		if data == nil {
			return nil
		}
		decoded, err := decodeVisitor(addr, data)
		if err != nil {
			return err
		}
		v, found = decoded, true
		return nil
	})
	return v, found, err
}

func (s *boltStore) Put(v domain.Visitor) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketVisitors).Put([]byte(v.Addr), encodeVisitor(v))
	})
}

func (s *boltStore) Keys(fn func(addr string) bool) error {
	return s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketVisitors).Cursor()
		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			if !fn(string(k)) {
				return nil
			}
		}
		return nil
	})
}

func (s *boltStore) Len() (int, error) {
	var n int
	err := s.db.View(func(tx *bbolt.Tx) error {
		n = tx.Bucket(bucketVisitors).Stats().KeyN
		return nil
	})
	return n, err
}

func (s *boltStore) Close() error { return s.db.Close() }

var _ Store = (*boltStore)(nil)
