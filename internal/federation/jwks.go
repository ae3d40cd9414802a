package federation

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog/log"
)

const jwksFetchTimeout = 10 * time.Second

// KeySet fetches a provider's JWKS document and caches the parsed RSA public
// keys by kid. Providers rotate keys on the order of days; a short TTL keeps
// rotation visible without hitting the endpoint on every login.
type KeySet struct {
	url    string
	client *http.Client

	mu    sync.Mutex // serializes refreshes, not lookups
	cache *ttlcache.Cache[string, *rsa.PublicKey]
}

// NewKeySet creates a KeySet for the given JWKS URL. Cached keys expire
// after ttl.
func NewKeySet(url string, ttl time.Duration) *KeySet {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, *rsa.PublicKey](ttl),
		ttlcache.WithDisableTouchOnHit[string, *rsa.PublicKey](),
	)
	go cache.Start()

	return &KeySet{
		url:    url,
		client: &http.Client{Timeout: jwksFetchTimeout},
		cache:  cache,
	}
}

// Keyfunc resolves the verification key for a token by its kid header,
// refreshing the JWKS on a cache miss. It satisfies jwt.Keyfunc.
func (ks *KeySet) Keyfunc(token *jwt.Token) (any, error) {
	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		return nil, fmt.Errorf("%w: token has no kid header", ErrUnknownKey)
	}

	if item := ks.cache.Get(kid); item != nil {
		return item.Value(), nil
	}

	if err := ks.refresh(); err != nil {
		return nil, err
	}

	if item := ks.cache.Get(kid); item != nil {
		return item.Value(), nil
	}
	return nil, fmt.Errorf("%w: kid %q", ErrUnknownKey, kid)
}

func (ks *KeySet) refresh() error {
	ks.mu.Lock()
	defer ks.mu.Unlock()

	resp, err := ks.client.Get(ks.url)
	if err != nil {
		return fmt.Errorf("jwks fetch from %s failed: %w", ks.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("jwks fetch from %s returned status %d", ks.url, resp.StatusCode)
	}

	var doc struct {
		Keys []struct {
			Kty string `json:"kty"`
			Kid string `json:"kid"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return fmt.Errorf("jwks decode failed: %w", err)
	}

	for _, k := range doc.Keys {
		if k.Kty != "RSA" || k.Kid == "" {
			continue
		}
		pub, err := parseRSAPublicKey(k.N, k.E)
		if err != nil {
			log.Warn().Err(err).Str("kid", k.Kid).Str("url", ks.url).Msg("Skipping unparseable JWKS key")
			continue
		}
		ks.cache.Set(k.Kid, pub, ttlcache.DefaultTTL)
	}
	return nil
}

func parseRSAPublicKey(n, e string) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(n)
	if err != nil {
		return nil, fmt.Errorf("bad modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(e)
	if err != nil {
		return nil, fmt.Errorf("bad exponent: %w", err)
	}

	exp := 0
	for _, b := range eBytes {
		exp = exp<<8 | int(b)
	}
	if exp <= 0 {
		return nil, fmt.Errorf("non-positive exponent")
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: exp,
	}, nil
}
