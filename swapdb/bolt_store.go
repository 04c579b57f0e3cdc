package swapdb

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/swapbridge/swapbridge/fsm"
	"github.com/swapbridge/swapbridge/swap"
	"go.etcd.io/bbolt"
)

var (
	// BoltFileName is the file name of the bolt order database.
	BoltFileName = "swaps.db"

	// ordersBucketKey is a bucket that contains all orders, pending and
	// final. It's keyed by the order id and leads to a nested sub-bucket
	// per order.
	//
	// maps: orderID -> orderBucket
	ordersBucketKey = []byte("swap-orders")

	// hashIndexBucketKey maps the hash lock of each order to its id, it
	// guarantees that a hash is used by a single order.
	//
	// maps: swapHash -> orderID
	hashIndexBucketKey = []byte("swap-hashes")

	// orderKey contains the serialized order within its order bucket.
	orderKey = []byte("order")

	// updatesBucketKey is a sub-bucket of each order bucket holding its
	// journal. This list only ever grows.
	//
	// path: ordersBucket -> orderBucket[id] -> updatesBucket
	//
	// maps: updateNumber -> serialized update
	updatesBucketKey = []byte("updates")

	// metaBucketKey stores all the meta information concerning the state
	// of the database.
	metaBucketKey = []byte("metadata")

	// dbVersionKey is used for storing the current database version.
	dbVersionKey = []byte("dbp")

	// latestDBVersion is the version of the bolt layout.
	latestDBVersion = uint32(1)

	// ErrDBReversion is returned when detecting an attempt to revert to a
	// prior database version.
	ErrDBReversion = errors.New("swap db cannot revert to prior version")

	byteOrder = binary.BigEndian
)

// fileExists returns true if the file exists, and false otherwise.
func fileExists(path string) bool {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false
		}
	}

	return true
}

// itob returns an 8-byte big endian representation of v.
func itob(v uint64) []byte {
	b := make([]byte, 8)
	byteOrder.PutUint64(b, v)

	return b
}

// BoltSwapStore stores orders in boltdb.
type BoltSwapStore struct {
	db    *bbolt.DB
	clock clock.Clock
}

// NewBoltSwapStore opens or creates the bolt order database in the given
// directory.
func NewBoltSwapStore(dbPath string, clk clock.Clock) (*BoltSwapStore,
	error) {

	// If the target path for the swap store doesn't exist, then we'll
	// create it now before we proceed.
	if !fileExists(dbPath) {
		if err := os.MkdirAll(dbPath, 0700); err != nil {
			return nil, err
		}
	}

	path := filepath.Join(dbPath, BoltFileName)
	bdb, err := bbolt.Open(path, 0600, &bbolt.Options{
		Timeout: time.Second,
	})
	if err != nil {
		return nil, err
	}

	// We'll create all the buckets we need if this is the first time we're
	// starting up. If they already exist, then these calls will be noops.
	err = bdb.Update(func(tx *bbolt.Tx) error {
		metaBucket, err := tx.CreateBucketIfNotExists(metaBucketKey)
		if err != nil {
			return err
		}

		data := metaBucket.Get(dbVersionKey)
		switch {
		case data == nil:
			log.Infof("Initializing new database with version %v",
				latestDBVersion)

			scratch := make([]byte, 4)
			byteOrder.PutUint32(scratch, latestDBVersion)
			if err := metaBucket.Put(dbVersionKey, scratch); err != nil {
				return err
			}

		case byteOrder.Uint32(data) > latestDBVersion:
			return ErrDBReversion
		}

		_, err = tx.CreateBucketIfNotExists(ordersBucketKey)
		if err != nil {
			return err
		}

		_, err = tx.CreateBucketIfNotExists(hashIndexBucketKey)

		return err
	})
	if err != nil {
		_ = bdb.Close()
		return nil, err
	}

	log.Infof("Using bolt database %v", path)

	return &BoltSwapStore{
		db:    bdb,
		clock: clk,
	}, nil
}

// CreateOrder stores a new order and journals its creation.
//
// NOTE: Part of the swap.Store interface.
func (s *BoltSwapStore) CreateOrder(ctx context.Context,
	order *swap.Order) error {

	updates := []*swap.Update{{
		Time:  order.CreatedAt,
		State: order.Status,
		Event: swap.OnCreated,
	}}

	return s.ImportOrder(ctx, order, updates)
}

// ImportOrder stores an order together with its journal as is.
//
// NOTE: Part of the SwapStore interface.
func (s *BoltSwapStore) ImportOrder(_ context.Context, order *swap.Order,
	updates []*swap.Update) error {

	orderBytes, err := serializeOrder(order)
	if err != nil {
		return err
	}

	id, err := order.ID.MarshalBinary()
	if err != nil {
		return err
	}

	hash := order.Hash()

	return s.db.Update(func(tx *bbolt.Tx) error {
		rootBucket := tx.Bucket(ordersBucketKey)
		if rootBucket == nil {
			return errors.New("bucket does not exist")
		}

		hashIndex := tx.Bucket(hashIndexBucketKey)
		if hashIndex == nil {
			return errors.New("bucket does not exist")
		}

		if rootBucket.Bucket(id) != nil {
			return fmt.Errorf("%w: id %v", swap.ErrOrderExists,
				order.ID)
		}

		if hashIndex.Get(hash[:]) != nil {
			return fmt.Errorf("%w: hash %v", swap.ErrOrderExists,
				hash)
		}

		if err := hashIndex.Put(hash[:], id); err != nil {
			return err
		}

		orderBucket, err := rootBucket.CreateBucket(id)
		if err != nil {
			return err
		}

		if err := orderBucket.Put(orderKey, orderBytes); err != nil {
			return err
		}

		updatesBucket, err := orderBucket.CreateBucket(updatesBucketKey)
		if err != nil {
			return err
		}

		for _, update := range updates {
			if err := putUpdate(updatesBucket, update); err != nil {
				return err
			}
		}

		return nil
	})
}

// putUpdate appends a journal entry.
func putUpdate(updatesBucket *bbolt.Bucket, update *swap.Update) error {
	updateBytes, err := serializeUpdate(update)
	if err != nil {
		return err
	}

	id, err := updatesBucket.NextSequence()
	if err != nil {
		return err
	}

	return updatesBucket.Put(itob(id), updateBytes)
}

// orderBucket returns the bucket of the given order.
func orderBucket(tx *bbolt.Tx, id uuid.UUID) (*bbolt.Bucket, error) {
	rootBucket := tx.Bucket(ordersBucketKey)
	if rootBucket == nil {
		return nil, errors.New("bucket does not exist")
	}

	key, err := id.MarshalBinary()
	if err != nil {
		return nil, err
	}

	bucket := rootBucket.Bucket(key)
	if bucket == nil {
		return nil, swap.ErrOrderNotFound
	}

	return bucket, nil
}

// UpdateOrder persists the order if the stored version matches the order's
// version, and increments the version.
//
// NOTE: Part of the swap.Store interface.
func (s *BoltSwapStore) UpdateOrder(_ context.Context, order *swap.Order,
	event fsm.EventType) error {

	update := &swap.Update{
		Time:  s.clock.Now().UTC().Truncate(time.Microsecond),
		State: order.Status,
		Event: event,
	}

	err := s.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := orderBucket(tx, order.ID)
		if err != nil {
			return err
		}

		stored, err := deserializeOrder(bucket.Get(orderKey))
		if err != nil {
			return err
		}

		if stored.Version != order.Version {
			return fmt.Errorf("%w: order %v at version %v, stored "+
				"%v", swap.ErrVersionConflict, order.ID,
				order.Version, stored.Version)
		}

		updated := order.Copy()
		updated.Version++

		orderBytes, err := serializeOrder(updated)
		if err != nil {
			return err
		}

		if err := bucket.Put(orderKey, orderBytes); err != nil {
			return err
		}

		updatesBucket := bucket.Bucket(updatesBucketKey)
		if updatesBucket == nil {
			return errors.New("updates bucket does not exist")
		}

		return putUpdate(updatesBucket, update)
	})
	if err != nil {
		return err
	}

	order.Version++

	return nil
}

// FetchOrder returns the order with the given id.
//
// NOTE: Part of the swap.Store interface.
func (s *BoltSwapStore) FetchOrder(_ context.Context,
	id uuid.UUID) (*swap.Order, error) {

	var order *swap.Order
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket, err := orderBucket(tx, id)
		if err != nil {
			return err
		}

		order, err = deserializeOrder(bucket.Get(orderKey))

		return err
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

// fetchOrders returns all orders accepted by the filter, ordered by creation
// time.
func (s *BoltSwapStore) fetchOrders(
	filter func(*swap.Order) bool) ([]*swap.Order, error) {

	var orders []*swap.Order
	err := s.db.View(func(tx *bbolt.Tx) error {
		rootBucket := tx.Bucket(ordersBucketKey)
		if rootBucket == nil {
			return errors.New("bucket does not exist")
		}

		return rootBucket.ForEach(func(k, v []byte) error {
			// Only go into things that we know are sub-bucket
			// keys.
			if v != nil {
				return nil
			}

			bucket := rootBucket.Bucket(k)
			if bucket == nil {
				return fmt.Errorf("order bucket %x not found", k)
			}

			order, err := deserializeOrder(bucket.Get(orderKey))
			if err != nil {
				return err
			}

			if filter(order) {
				orders = append(orders, order)
			}

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(orders, func(i, j int) bool {
		a, b := orders[i], orders[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}

		return a.ID.String() < b.ID.String()
	})

	return orders, nil
}

// FetchOrders returns all orders ordered by creation time.
//
// NOTE: Part of the swap.Store interface.
func (s *BoltSwapStore) FetchOrders(_ context.Context) ([]*swap.Order,
	error) {

	return s.fetchOrders(func(*swap.Order) bool {
		return true
	})
}

// FetchPendingOrders returns all orders that are not in a final state.
//
// NOTE: Part of the swap.Store interface.
func (s *BoltSwapStore) FetchPendingOrders(_ context.Context) ([]*swap.Order,
	error) {

	return s.fetchOrders(func(order *swap.Order) bool {
		return swap.IsPending(order.Status)
	})
}

// FetchUpdates returns the journal of an order.
//
// NOTE: Part of the swap.Store interface.
func (s *BoltSwapStore) FetchUpdates(_ context.Context,
	id uuid.UUID) ([]*swap.Update, error) {

	var updates []*swap.Update
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket, err := orderBucket(tx, id)
		if err != nil {
			return err
		}

		updatesBucket := bucket.Bucket(updatesBucketKey)
		if updatesBucket == nil {
			return errors.New("updates bucket does not exist")
		}

		return updatesBucket.ForEach(func(k, v []byte) error {
			update, err := deserializeUpdate(v)
			if err != nil {
				return err
			}

			updates = append(updates, update)

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return updates, nil
}

// Close closes the underlying database.
//
// NOTE: Part of the SwapStore interface.
func (s *BoltSwapStore) Close() error {
	return s.db.Close()
}
