package catalog

import "errors"

// Item is the item master record. The catalog is owned by an external
// provisioning flow; the stock core only reads it.
type Item struct {
	Name     string `json:"name"`
	Unit     string `json:"unit"`
	MinStock int64  `json:"min_stock"`
	MaxStock int64  `json:"max_stock"`
}

// ErrItemNotFound indicates an unknown item name.
var ErrItemNotFound = errors.New("catalog: item not found")
