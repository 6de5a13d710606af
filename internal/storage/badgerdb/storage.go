package badgerdb

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"market_sales/internal/sales"

	"github.com/dgraph-io/badger/v4"
	"github.com/timshannon/badgerhold/v4"
	"go.uber.org/zap"
)

const maxRetries = 5

type saleDTO struct {
	ServiceID          string
	AssetID            string
	Owner              string
	AuthorizationToken uint64
	Price              uint64
	IsAuction          bool
	StartTime          time.Time
	EndTime            time.Time
	HasBid             bool
	Bidder             string
	BidAmount          uint64
}

type ownerIndexDTO struct {
	Owner string
	Keys  []sales.Key
}

type serviceIndexDTO struct {
	ServiceID string
	Assets    []string
}

// Storage persists the sale registry in badger. Sales, the owner index and the service
// index are stored as three record types, so each map is addressed independently.
// A Storage bound to a transaction reads and writes through it.
type Storage struct {
	store *badgerhold.Store
	txn   *badger.Txn
}

// NewStorage opens the store in dir. An empty dir keeps everything in memory.
func NewStorage(dir string, logger *zap.Logger) (*Storage, error) {
	var badgerLogger badger.Logger
	if logger != nil {
		badgerLogger = zapLogger{logger.Named("badger").Sugar()}
	}
	store, err := createDB(dir, badgerLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to open sales store: %w", err)
	}
	return &Storage{store: store}, nil
}

func createDB(dir string, logger badger.Logger) (*badgerhold.Store, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = logger
	if len(dir) <= 0 {
		opts.InMemory = true
	}

	return badgerhold.Open(badgerhold.Options{
		Encoder:          badgerhold.DefaultEncode,
		Decoder:          badgerhold.DefaultDecode,
		SequenceBandwith: 100,
		Options:          opts,
	})
}

func (s *Storage) Close() error {
	return s.store.Close()
}

// Atomically runs fn in a single badger transaction and commits its writes together.
// Conflicting commits are retried with a fresh transaction. Inside a transaction fn
// joins the running one.
func (s *Storage) Atomically(fn func(sales.Storage) error) error {
	if s.txn != nil {
		return fn(s)
	}

	var err error
	for range maxRetries {
		err = func() error {
			txn := s.store.Badger().NewTransaction(true)
			defer txn.Discard()

			if err := fn(&Storage{store: s.store, txn: txn}); err != nil {
				return err
			}
			return txn.Commit()
		}()
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		time.Sleep(100 * time.Millisecond)
	}
	return err
}

func (s *Storage) Set(sale *sales.Sale) error {
	if sale.ServiceID == "" || sale.AssetID == "" {
		return sales.ErrEmptyID
	}
	dto := toDTO(sale)
	return s.upsert(sale.Key(), &dto)
}

func (s *Storage) Read(key sales.Key) (*sales.Sale, error) {
	var dto saleDTO
	if err := s.get(key, &dto); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, sales.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get sale %s: %w", key, err)
	}
	return fromDTO(dto), nil
}

func (s *Storage) Delete(key sales.Key) error {
	if err := s.delete(key, saleDTO{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return sales.ErrNotFound
		}
		return fmt.Errorf("failed to delete sale %s: %w", key, err)
	}
	return nil
}

// GetAll returns every sale ordered by key.
func (s *Storage) GetAll() ([]*sales.Sale, error) {
	var dtos []saleDTO
	if err := s.find(&dtos); err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return nil, fmt.Errorf("failed to list sales: %w", err)
	}
	out := make([]*sales.Sale, 0, len(dtos))
	for _, dto := range dtos {
		out = append(out, fromDTO(dto))
	}
	slices.SortFunc(out, func(a, b *sales.Sale) int { return a.Key().Compare(b.Key()) })
	return out, nil
}

func (s *Storage) OwnerKeys(owner string) ([]sales.Key, error) {
	var dto ownerIndexDTO
	if err := s.get(owner, &dto); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get sales of owner %s: %w", owner, err)
	}
	return dto.Keys, nil
}

func (s *Storage) SetOwnerKeys(owner string, keys []sales.Key) error {
	if len(keys) == 0 {
		return s.deleteIfExists(owner, ownerIndexDTO{})
	}
	return s.upsert(owner, &ownerIndexDTO{Owner: owner, Keys: keys})
}

func (s *Storage) ServiceAssets(serviceID string) ([]string, error) {
	var dto serviceIndexDTO
	if err := s.get(serviceID, &dto); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get assets of service %s: %w", serviceID, err)
	}
	return dto.Assets, nil
}

func (s *Storage) SetServiceAssets(serviceID string, assets []string) error {
	if len(assets) == 0 {
		return s.deleteIfExists(serviceID, serviceIndexDTO{})
	}
	return s.upsert(serviceID, &serviceIndexDTO{ServiceID: serviceID, Assets: assets})
}

func (s *Storage) get(key, result interface{}) error {
	if s.txn != nil {
		return s.store.TxGet(s.txn, key, result)
	}
	return s.store.Get(key, result)
}

func (s *Storage) find(result interface{}) error {
	if s.txn != nil {
		return s.store.TxFind(s.txn, result, nil)
	}
	return s.store.Find(result, nil)
}

func (s *Storage) delete(key, dataType interface{}) error {
	if s.txn != nil {
		return s.store.TxDelete(s.txn, key, dataType)
	}
	return s.store.Delete(key, dataType)
}

// upsert retries conflicts outside a transaction; Atomically retries the whole
// transaction instead.
func (s *Storage) upsert(key, data interface{}) error {
	if s.txn != nil {
		return s.store.TxUpsert(s.txn, key, data)
	}
	err := s.store.Upsert(key, data)
	attempts := 1
	for errors.Is(err, badger.ErrConflict) && attempts <= maxRetries {
		time.Sleep(100 * time.Millisecond)
		err = s.store.Upsert(key, data)
		attempts++
	}
	return err
}

func (s *Storage) deleteIfExists(key, dataType interface{}) error {
	if err := s.delete(key, dataType); err != nil && !errors.Is(err, badgerhold.ErrNotFound) {
		return err
	}
	return nil
}

func toDTO(sale *sales.Sale) saleDTO {
	dto := saleDTO{
		ServiceID:          sale.ServiceID,
		AssetID:            sale.AssetID,
		Owner:              sale.Owner,
		AuthorizationToken: sale.AuthorizationToken,
		Price:              uint64(sale.Price),
	}
	if a := sale.Auction; a != nil {
		dto.IsAuction = true
		dto.StartTime = a.Start
		dto.EndTime = a.End
		if a.Bid != nil {
			dto.HasBid = true
			dto.Bidder = a.Bid.Bidder
			dto.BidAmount = uint64(a.Bid.Amount)
		}
	}
	return dto
}

func fromDTO(dto saleDTO) *sales.Sale {
	sale := &sales.Sale{
		Owner:              dto.Owner,
		AuthorizationToken: dto.AuthorizationToken,
		ServiceID:          dto.ServiceID,
		AssetID:            dto.AssetID,
		Price:              sales.Amount(dto.Price),
	}
	if dto.IsAuction {
		sale.Auction = &sales.Auction{Start: dto.StartTime, End: dto.EndTime}
		if dto.HasBid {
			sale.Auction.Bid = &sales.Bid{Bidder: dto.Bidder, Amount: sales.Amount(dto.BidAmount)}
		}
	}
	return sale
}

type zapLogger struct {
	*zap.SugaredLogger
}

func (l zapLogger) Warningf(format string, args ...interface{}) {
	l.Warnf(format, args...)
}
