// Package factory selects a storage backend from configuration. It lives
// apart from package storage so backends can depend on the port
// definitions without an import cycle.
package factory

import (
	"fmt"

	"github.com/stewardhq/steward/internal/config"
	"github.com/stewardhq/steward/internal/ledger"
	"github.com/stewardhq/steward/internal/storage"
	"github.com/stewardhq/steward/internal/storage/ledgerstore"
	"github.com/stewardhq/steward/internal/storage/local"
)

// Open builds the store selected by cfg.Backend.
func Open(cfg *config.Config, sessionID string) (*storage.Store, error) {
	switch cfg.Backend {
	case config.BackendLocal:
		return local.New(cfg, sessionID), nil
	case config.BackendLedger:
		gw := ledger.NewCLI(cfg.LedgerBin, cfg.Root(), cfg.LedgerTimeout)
		return ledgerstore.New(cfg, sessionID, gw), nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidBackend, cfg.Backend)
	}
}
