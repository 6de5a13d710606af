package sales

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"
)

// Registry owns the sales and their owner and custody service indices.
// Every mutation of a sale goes through it so the indices stay consistent.
// Registry is not safe for concurrent use; Service serialises access.
type Registry struct {
	storage Storage
	logger  *zap.Logger
	now     func() time.Time
}

// NewRegistry creates a registry on top of storage.
func NewRegistry(storage Storage, logger *zap.Logger, now func() time.Time) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Registry{
		storage: storage,
		logger:  logger,
		now:     now,
	}
}

// CreateOrRefresh lists an asset. When the asset is already listed as an auction and
// the listing declares an auction too, the price, window and escrowed bid are kept,
// unless the new owner holds the standing bid: the auction then starts over from the
// listing and the caller refunds the dropped bid.
// The sale that was overwritten, if any, is returned alongside the stored one.
func (r *Registry) CreateOrRefresh(l Listing) (*Sale, *Sale, error) {
	key, err := NewKey(l.ServiceID, l.AssetID)
	if err != nil {
		return nil, nil, err
	}
	if err := validateWindow(l, r.now()); err != nil {
		return nil, nil, err
	}

	existing, err := r.storage.Read(key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, nil, fmt.Errorf("failed to read sale %s: %w", key, err)
	}

	sale := &Sale{
		Owner:              l.Owner,
		AuthorizationToken: l.AuthorizationToken,
		ServiceID:          key.ServiceID,
		AssetID:            key.AssetID,
		Price:              l.Price,
	}
	switch {
	case l.IsAuction && existing != nil && existing.IsAuction() && !existing.Auction.HasBidFrom(l.Owner):
		sale.Price = existing.Price
		sale.Auction = cloneSale(existing).Auction
	case l.IsAuction:
		sale.Auction = &Auction{Start: *l.Start, End: *l.End}
	}

	err = r.storage.Atomically(func(st Storage) error {
		if err := st.Set(sale); err != nil {
			return fmt.Errorf("failed to save sale %s: %w", key, err)
		}
		if existing != nil && existing.Owner != sale.Owner {
			if err := r.removeFromOwner(st, existing.Owner, key); err != nil {
				return err
			}
		}
		if err := r.addToOwner(st, sale.Owner, key); err != nil {
			return err
		}
		return r.addToService(st, key)
	})
	if err != nil {
		return nil, nil, err
	}

	r.logger.Debug("sale listed",
		zap.String("key", key.String()),
		zap.String("owner", sale.Owner),
		zap.Bool("auction", sale.IsAuction()),
		zap.Bool("refreshed", existing != nil),
	)
	return sale, existing, nil
}

func validateWindow(l Listing, now time.Time) error {
	if l.IsAuction && (l.Start == nil || l.End == nil) {
		return fmt.Errorf("%w: auction needs both start and end time", ErrInvalidAuctionWindow)
	}
	if l.Start != nil {
		if l.Start.Before(now) {
			return fmt.Errorf("%w: start time is in the past", ErrInvalidAuctionWindow)
		}
		if l.End != nil && !l.Start.Before(*l.End) {
			return fmt.Errorf("%w: start time must be before end time", ErrInvalidAuctionWindow)
		}
	}
	if l.End != nil && l.End.Before(now) {
		return fmt.Errorf("%w: end time is in the past", ErrInvalidAuctionWindow)
	}
	return nil
}

// Get returns the live sale for key.
func (r *Registry) Get(key Key) (*Sale, error) {
	return r.storage.Read(key)
}

// Update persists changes to an already listed sale. Ownership and key changes are
// not allowed through Update.
func (r *Registry) Update(sale *Sale) error {
	current, err := r.storage.Read(sale.Key())
	if err != nil {
		return err
	}
	if current.Owner != sale.Owner {
		return fmt.Errorf("cannot change owner of sale %s through an update", sale.Key())
	}
	return r.storage.Set(sale)
}

// Remove deletes a sale and drops it from both indices in one storage transaction.
func (r *Registry) Remove(key Key) (*Sale, error) {
	sale, err := r.storage.Read(key)
	if err != nil {
		return nil, err
	}
	err = r.storage.Atomically(func(st Storage) error {
		if err := st.Delete(key); err != nil {
			return fmt.Errorf("failed to delete sale %s: %w", key, err)
		}
		if err := r.removeFromOwner(st, sale.Owner, key); err != nil {
			return err
		}
		return r.removeFromService(st, key)
	})
	if err != nil {
		return nil, err
	}
	r.logger.Debug("sale removed", zap.String("key", key.String()), zap.String("owner", sale.Owner))
	return sale, nil
}

// ListByOwner returns the keys of every sale owned by owner.
func (r *Registry) ListByOwner(owner string) ([]Key, error) {
	return r.storage.OwnerKeys(owner)
}

// ListByService returns the asset identifiers listed through a custody service.
func (r *Registry) ListByService(serviceID string) ([]string, error) {
	return r.storage.ServiceAssets(serviceID)
}

func (r *Registry) All() ([]*Sale, error) {
	return r.storage.GetAll()
}

func (r *Registry) Supply() (int, error) {
	all, err := r.storage.GetAll()
	if err != nil {
		return 0, err
	}
	return len(all), nil
}

func (r *Registry) SupplyByOwner(owner string) (int, error) {
	keys, err := r.storage.OwnerKeys(owner)
	return len(keys), err
}

func (r *Registry) SupplyByService(serviceID string) (int, error) {
	assets, err := r.storage.ServiceAssets(serviceID)
	return len(assets), err
}

// ListingCount returns how many live sales owner has. It only reads storage, so
// deposit accounting may call it while a Service entry point holds the lock.
func (r *Registry) ListingCount(owner string) int {
	n, err := r.SupplyByOwner(owner)
	if err != nil {
		r.logger.Error("failed to count listings", zap.String("owner", owner), zap.Error(err))
	}
	return n
}

// SalesByOwner returns a page of the owner's sales. A zero limit means no limit.
func (r *Registry) SalesByOwner(owner string, from, limit int) ([]*Sale, error) {
	keys, err := r.storage.OwnerKeys(owner)
	if err != nil {
		return nil, err
	}
	start, end := page(len(keys), from, limit)
	return r.readAll(keys[start:end])
}

// SalesByService returns a page of the sales listed through a custody service.
func (r *Registry) SalesByService(serviceID string, from, limit int) ([]*Sale, error) {
	assets, err := r.storage.ServiceAssets(serviceID)
	if err != nil {
		return nil, err
	}
	start, end := page(len(assets), from, limit)
	keys := make([]Key, 0, end-start)
	for _, asset := range assets[start:end] {
		keys = append(keys, Key{ServiceID: serviceID, AssetID: asset})
	}
	return r.readAll(keys)
}

func (r *Registry) readAll(keys []Key) ([]*Sale, error) {
	sales := make([]*Sale, 0, len(keys))
	for _, key := range keys {
		sale, err := r.storage.Read(key)
		if err != nil {
			return nil, fmt.Errorf("index points to missing sale %s: %w", key, err)
		}
		sales = append(sales, sale)
	}
	return sales, nil
}

func page(n, from, limit int) (int, int) {
	if from < 0 {
		from = 0
	}
	if from > n {
		from = n
	}
	end := n
	if limit > 0 && from+limit < n {
		end = from + limit
	}
	return from, end
}

func (r *Registry) addToOwner(st Storage, owner string, key Key) error {
	keys, err := st.OwnerKeys(owner)
	if err != nil {
		return err
	}
	i, found := slices.BinarySearchFunc(keys, key, Key.Compare)
	if found {
		return nil
	}
	return st.SetOwnerKeys(owner, slices.Insert(keys, i, key))
}

func (r *Registry) removeFromOwner(st Storage, owner string, key Key) error {
	keys, err := st.OwnerKeys(owner)
	if err != nil {
		return err
	}
	i, found := slices.BinarySearchFunc(keys, key, Key.Compare)
	if !found {
		r.logger.Warn("sale missing from owner index", zap.String("owner", owner), zap.String("key", key.String()))
		return nil
	}
	return st.SetOwnerKeys(owner, slices.Delete(keys, i, i+1))
}

func (r *Registry) addToService(st Storage, key Key) error {
	assets, err := st.ServiceAssets(key.ServiceID)
	if err != nil {
		return err
	}
	i, found := slices.BinarySearch(assets, key.AssetID)
	if found {
		return nil
	}
	return st.SetServiceAssets(key.ServiceID, slices.Insert(assets, i, key.AssetID))
}

func (r *Registry) removeFromService(st Storage, key Key) error {
	assets, err := st.ServiceAssets(key.ServiceID)
	if err != nil {
		return err
	}
	i, found := slices.BinarySearch(assets, key.AssetID)
	if !found {
		r.logger.Warn("sale missing from service index", zap.String("key", key.String()))
		return nil
	}
	return st.SetServiceAssets(key.ServiceID, slices.Delete(assets, i, i+1))
}
