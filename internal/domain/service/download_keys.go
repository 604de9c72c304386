package service

import (
	"context"
	"fmt"
	"sync"

	"itchdl/internal/domain"
	"itchdl/shared/domain/observability"
)

// ownedKey is one entry of the /profile/owned-keys listing
type ownedKey struct {
	ID     int64     `json:"id"`
	GameID int64     `json:"game_id"`
	Game   gameEntry `json:"game"`
}

func (k ownedKey) gameID() int64 {
	if k.GameID != 0 {
		return k.GameID
	}
	return k.Game.normalize().GameID
}

// ownedKeysPage fetches one page of the user's download keys. last is
// true once the page is shorter than the server's page size.
func ownedKeysPage(ctx context.Context, client domain.CatalogClient, page int) (keys []ownedKey, last bool, err error) {
	var data struct {
		OwnedKeys []ownedKey `json:"owned_keys"`
		PerPage   int        `json:"per_page"`
	}
	if err := client.GetJSON(ctx, "/profile/owned-keys", pageQuery(page), &data); err != nil {
		return nil, false, err
	}
	return data.OwnedKeys, len(data.OwnedKeys) != data.PerPage, nil
}

// DownloadKeys maps game IDs to the download keys the user owns. Paid
// titles only list their uploads when the matching key ID is passed.
type DownloadKeys struct {
	client  domain.CatalogClient
	logger  observability.Logger
	metrics observability.Metrics

	mu     sync.RWMutex
	keys   map[int64]int64
	loaded bool
}

func NewDownloadKeys(client domain.CatalogClient, logger observability.Logger, metrics observability.Metrics) *DownloadKeys {
	return &DownloadKeys{
		client:  client,
		logger:  logger.WithFields(map[string]interface{}{"component": "download_keys"}),
		metrics: metrics.WithTags(map[string]string{"component": "download_keys"}),
		keys:    make(map[int64]int64),
	}
}

// Load reads every page of owned keys once. Later calls are no-ops.
func (k *DownloadKeys) Load(ctx context.Context) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.loaded {
		return nil
	}

	keys := make(map[int64]int64)
	for page := 1; ; page++ {
		batch, last, err := ownedKeysPage(ctx, k.client, page)
		if err != nil {
			k.metrics.IncrementCounter("download_keys.load.failed", nil)
			return fmt.Errorf("failed to load download keys (page %d): %w", page, err)
		}

		added := 0
		for _, key := range batch {
			id := key.gameID()
			if id == 0 || key.ID == 0 {
				continue
			}
			if _, dup := keys[id]; !dup {
				added++
			}
			keys[id] = key.ID
		}

		if last || len(batch) == 0 || added == 0 {
			break
		}
	}

	k.keys = keys
	k.loaded = true
	k.metrics.RecordGauge("download_keys.count", float64(len(keys)), nil)
	k.logger.Info("Loaded download keys", "count", len(keys))
	return nil
}

// Lookup returns the key ID for gameID, or 0 when the user owns none
func (k *DownloadKeys) Lookup(gameID int64) int64 {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.keys[gameID]
}
