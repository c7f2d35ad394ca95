package prices

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	_ "github.com/joho/godotenv/autoload"

	"cryptocrash/internal/store"
)

const (
	cacheTTL      = 10 * time.Second
	redisKey      = "crash:prices"
	fetchTimeout  = 5 * time.Second
	defaultAPIURL = "https://api.coingecko.com/api/v3"
)

var ErrNoPrices = errors.New("failed to fetch prices and no cached value exists")

// Oracle serves asset prices from CoinGecko with a ~10s cache. A fresh value
// comes from the cache (Redis when available, in-process otherwise); on
// upstream failure the last-known value is served however old it is. Only
// when there has never been a successful fetch does GetPrices fail.
type Oracle struct {
	httpClient  *http.Client
	redisClient *redis.Client
	apiURL      string
	apiKey      string

	// fetch is swappable for tests
	fetch func(ctx context.Context) (map[store.Asset]float64, error)

	mu        sync.Mutex
	cached    map[store.Asset]float64
	fetchedAt time.Time
}

// New builds an Oracle. redisClient may be nil; the in-process cache then
// carries the whole load.
func New(redisClient *redis.Client) *Oracle {
	o := &Oracle{
		httpClient:  &http.Client{Timeout: fetchTimeout},
		redisClient: redisClient,
		apiURL:      getEnv("CRYPTO_API_URL", defaultAPIURL),
		apiKey:      os.Getenv("CRYPTO_API_KEY"),
	}
	o.fetch = o.fetchCoinGecko
	return o
}

// GetPrices returns the current price per bettable asset, in USD.
func (o *Oracle) GetPrices(ctx context.Context) (map[store.Asset]float64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cached != nil && time.Since(o.fetchedAt) < cacheTTL {
		return copyPrices(o.cached), nil
	}

	if fromRedis := o.readRedis(ctx); fromRedis != nil {
		o.cached = fromRedis
		o.fetchedAt = time.Now()
		return copyPrices(fromRedis), nil
	}

	fresh, err := o.fetch(ctx)
	if err == nil {
		o.cached = fresh
		o.fetchedAt = time.Now()
		o.writeRedis(ctx, fresh)
		return copyPrices(fresh), nil
	}

	if o.cached != nil {
		log.Printf("[PRICES] Upstream failed, serving last-known prices: %v", err)
		return copyPrices(o.cached), nil
	}
	return nil, fmt.Errorf("%w: %v", ErrNoPrices, err)
}

func (o *Oracle) readRedis(ctx context.Context) map[store.Asset]float64 {
	if o.redisClient == nil {
		return nil
	}
	raw, err := o.redisClient.Get(ctx, redisKey).Result()
	if err != nil {
		return nil
	}
	var prices map[store.Asset]float64
	if err := json.Unmarshal([]byte(raw), &prices); err != nil {
		return nil
	}
	return prices
}

func (o *Oracle) writeRedis(ctx context.Context, prices map[store.Asset]float64) {
	if o.redisClient == nil {
		return
	}
	data, err := json.Marshal(prices)
	if err != nil {
		return
	}
	if err := o.redisClient.Set(ctx, redisKey, data, cacheTTL).Err(); err != nil {
		log.Printf("[PRICES] Failed to cache prices in Redis: %v", err)
	}
}

type coinGeckoResponse map[string]struct {
	USD float64 `json:"usd"`
}

func (o *Oracle) fetchCoinGecko(ctx context.Context) (map[store.Asset]float64, error) {
	url := o.apiURL + "/simple/price?ids=bitcoin,ethereum&vs_currencies=usd"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if o.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", o.apiKey)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("price API returned status %d", resp.StatusCode)
	}

	var body coinGeckoResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}

	prices := make(map[store.Asset]float64, len(store.BetAssets))
	for _, asset := range store.BetAssets {
		entry, ok := body[string(asset)]
		if !ok || entry.USD <= 0 {
			return nil, fmt.Errorf("price missing for %s", asset)
		}
		prices[asset] = entry.USD
	}

	log.Printf("[PRICES] Fetched fresh prices: %v", prices)
	return prices, nil
}

func copyPrices(src map[store.Asset]float64) map[store.Asset]float64 {
	out := make(map[store.Asset]float64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
