// Package currency refreshes cryptocurrency to USD exchange rates and caches
// them in Redis for the API.
package currency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

var ErrNoRates = errors.New("no exchange rates cached")

// Snapshot is the set of rates from one refresh.
type Snapshot struct {
	Rates     map[string]float64 `json:"rates"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

type Cache interface {
	Save(ctx context.Context, snapshot Snapshot) error
	Load(ctx context.Context) (Snapshot, error)
}

// Refresher pulls prices from a CoinGecko compatible simple/price endpoint.
type Refresher struct {
	endpoint string
	ids      []string
	client   *http.Client
	cache    Cache
}

func NewRefresher(endpoint string, ids []string, client *http.Client, cache Cache) *Refresher {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)
	return &Refresher{endpoint: endpoint, ids: sorted, client: client, cache: cache}
}

// Refresh fetches the configured ids and overwrites the cache. Ids missing
// from the response are left out of the snapshot.
func (r *Refresher) Refresh(ctx context.Context) (Snapshot, error) {
	if len(r.ids) == 0 {
		return Snapshot{}, fmt.Errorf("no currency ids configured")
	}
	query := url.Values{}
	query.Set("ids", strings.Join(r.ids, ","))
	query.Set("vs_currencies", "usd")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return Snapshot{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := r.client.Do(req)
	if err != nil {
		return Snapshot{}, fmt.Errorf("fetch rates: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Snapshot{}, fmt.Errorf("fetch rates: status %d", resp.StatusCode)
	}

	var prices map[string]struct {
		USD *float64 `json:"usd"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&prices); err != nil {
		return Snapshot{}, fmt.Errorf("decode rates: %w", err)
	}

	snapshot := Snapshot{Rates: make(map[string]float64, len(r.ids)), UpdatedAt: time.Now().UTC()}
	for _, id := range r.ids {
		price, ok := prices[id]
		if !ok || price.USD == nil {
			log.WithField("currency", id).Warn("exchange rate missing from response")
			continue
		}
		snapshot.Rates[id] = *price.USD
	}
	if len(snapshot.Rates) == 0 {
		return Snapshot{}, ErrNoRates
	}
	if err := r.cache.Save(ctx, snapshot); err != nil {
		return Snapshot{}, err
	}
	return snapshot, nil
}

// Current returns the cached rates.
func (r *Refresher) Current(ctx context.Context) (Snapshot, error) {
	return r.cache.Load(ctx)
}
