package sales

import (
	"fmt"
	"strings"
)

// Delimiter separates the service and asset identifiers in the printable form of a Key.
const Delimiter = "."

// Key addresses a sale. Identity is the pair of fields, never the printed form,
// so identifiers may contain the delimiter without colliding.
type Key struct {
	ServiceID string `json:"service_id"`
	AssetID   string `json:"asset_id"`
}

// NewKey builds a key from a custody service identity and an asset identifier.
func NewKey(serviceID, assetID string) (Key, error) {
	if serviceID == "" || assetID == "" {
		return Key{}, fmt.Errorf("%w: service %q asset %q", ErrInvalidKey, serviceID, assetID)
	}
	return Key{ServiceID: serviceID, AssetID: assetID}, nil
}

func (k Key) String() string {
	return k.ServiceID + Delimiter + k.AssetID
}

// Compare orders keys by service then asset.
func (k Key) Compare(o Key) int {
	if c := strings.Compare(k.ServiceID, o.ServiceID); c != 0 {
		return c
	}
	return strings.Compare(k.AssetID, o.AssetID)
}
