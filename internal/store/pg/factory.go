package pg

import (
	"fmt"

	"github.com/nextlevelbuilder/clawhost/internal/store"
)

// NewPGStores creates all stores backed by Postgres (managed mode).
func NewPGStores(cfg store.StoreConfig) (*store.Stores, error) {
	db, err := OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	return &store.Stores{
		Gateway:  NewPGGatewayStore(db),
		Users:    NewPGUserStore(db),
		Sessions: NewPGSessionStore(db),
		Chat:     NewPGChatStore(db),
		Digest:   NewPGDigestStore(db),
	}, nil
}
