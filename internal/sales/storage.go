package sales

import (
	"errors"
	"slices"
	"sync"
)

// ErrEmptyID is returned when trying to store a sale with an incomplete key.
var ErrEmptyID = errors.New("empty sale key")

// Storage persists the three maps of the market: sales by key, keys by owner and
// assets by custody service. The maps are independent; Registry keeps them consistent.
type Storage interface {
	// Atomically runs fn against a view whose writes are applied together, or not at
	// all when fn returns an error. Calls nested inside fn join the outer one.
	Atomically(fn func(Storage) error) error

	Set(sale *Sale) error
	Read(key Key) (*Sale, error)
	Delete(key Key) error
	GetAll() ([]*Sale, error)

	// OwnerKeys returns nil when the owner has no entry.
	OwnerKeys(owner string) ([]Key, error)
	// SetOwnerKeys removes the entry when keys is empty.
	SetOwnerKeys(owner string, keys []Key) error
	ServiceAssets(serviceID string) ([]string, error)
	SetServiceAssets(serviceID string, assets []string) error
}

// LocalStorage provides an in-memory implementation of Storage.
type LocalStorage struct {
	mu        sync.RWMutex
	m         map[Key]*Sale
	byOwner   map[string][]Key
	byService map[string][]string
}

// NewLocalStorage instantiates a new LocalStorage with empty maps.
func NewLocalStorage() *LocalStorage {
	return &LocalStorage{
		m:         map[Key]*Sale{},
		byOwner:   map[string][]Key{},
		byService: map[string][]string{},
	}
}

// Set stores a copy of the sale.
// Returns ErrEmptyID if the sale has an incomplete key.
func (l *LocalStorage) Set(sale *Sale) error {
	if sale.ServiceID == "" || sale.AssetID == "" {
		return ErrEmptyID
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.m[sale.Key()] = cloneSale(sale)
	return nil
}

// Read retrieves a copy of a sale by key.
// Returns ErrNotFound if the sale is not found.
func (l *LocalStorage) Read(key Key) (*Sale, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s, ok := l.m[key]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneSale(s), nil
}

func (l *LocalStorage) Delete(key Key) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.m[key]; !ok {
		return ErrNotFound
	}
	delete(l.m, key)
	return nil
}

// GetAll retrieves all sales ordered by key.
func (l *LocalStorage) GetAll() ([]*Sale, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	sales := make([]*Sale, 0, len(l.m))
	for _, s := range l.m {
		sales = append(sales, cloneSale(s))
	}
	slices.SortFunc(sales, func(a, b *Sale) int { return a.Key().Compare(b.Key()) })
	return sales, nil
}

func (l *LocalStorage) OwnerKeys(owner string) ([]Key, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	keys, ok := l.byOwner[owner]
	if !ok {
		return nil, nil
	}
	return append([]Key(nil), keys...), nil
}

func (l *LocalStorage) SetOwnerKeys(owner string, keys []Key) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(keys) == 0 {
		delete(l.byOwner, owner)
		return nil
	}
	l.byOwner[owner] = append([]Key(nil), keys...)
	return nil
}

func (l *LocalStorage) ServiceAssets(serviceID string) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	assets, ok := l.byService[serviceID]
	if !ok {
		return nil, nil
	}
	return append([]string(nil), assets...), nil
}

func (l *LocalStorage) SetServiceAssets(serviceID string, assets []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(assets) == 0 {
		delete(l.byService, serviceID)
		return nil
	}
	l.byService[serviceID] = append([]string(nil), assets...)
	return nil
}

// Atomically journals the writes fn makes and undoes them in reverse order when fn
// fails.
func (l *LocalStorage) Atomically(fn func(Storage) error) error {
	tx := &localTx{LocalStorage: l}
	if err := fn(tx); err != nil {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		return err
	}
	return nil
}

// localTx records how to restore every entry it overwrites. Undo functions run with
// the storage lock held.
type localTx struct {
	*LocalStorage
	undo []func()
}

func (t *localTx) Atomically(fn func(Storage) error) error {
	return fn(t)
}

func (t *localTx) Set(sale *Sale) error {
	key := sale.Key()
	t.saveSale(key)
	return t.LocalStorage.Set(sale)
}

func (t *localTx) Delete(key Key) error {
	t.saveSale(key)
	return t.LocalStorage.Delete(key)
}

func (t *localTx) SetOwnerKeys(owner string, keys []Key) error {
	t.mu.RLock()
	prev, ok := t.byOwner[owner]
	t.mu.RUnlock()
	t.undo = append(t.undo, func() {
		if ok {
			t.byOwner[owner] = prev
		} else {
			delete(t.byOwner, owner)
		}
	})
	return t.LocalStorage.SetOwnerKeys(owner, keys)
}

func (t *localTx) SetServiceAssets(serviceID string, assets []string) error {
	t.mu.RLock()
	prev, ok := t.byService[serviceID]
	t.mu.RUnlock()
	t.undo = append(t.undo, func() {
		if ok {
			t.byService[serviceID] = prev
		} else {
			delete(t.byService, serviceID)
		}
	})
	return t.LocalStorage.SetServiceAssets(serviceID, assets)
}

func (t *localTx) saveSale(key Key) {
	t.mu.RLock()
	prev, ok := t.m[key]
	t.mu.RUnlock()
	t.undo = append(t.undo, func() {
		if ok {
			t.m[key] = prev
		} else {
			delete(t.m, key)
		}
	})
}

func cloneSale(s *Sale) *Sale {
	c := *s
	if s.Auction != nil {
		a := *s.Auction
		if s.Auction.Bid != nil {
			b := *s.Auction.Bid
			a.Bid = &b
		}
		c.Auction = &a
	}
	return &c
}
