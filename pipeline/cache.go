package pipeline

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"florapredict/ml"
)

// ResultCache memoizes inference results. A pipeline never changes once
// built, so a result is keyed by the artifact fingerprint and the canonical
// input.
type ResultCache struct {
	cache *lru.Cache[string, Result]
}

func NewResultCache(size int) (*ResultCache, error) {
	c, err := lru.New[string, Result](size)
	if err != nil {
		return nil, err
	}
	return &ResultCache{cache: c}, nil
}

func cacheKey(fingerprint string, in ml.ValidatedInput) string {
	return fingerprint + "#" + in.Key()
}

func (c *ResultCache) Get(fingerprint string, in ml.ValidatedInput) (Result, bool) {
	return c.cache.Get(cacheKey(fingerprint, in))
}

func (c *ResultCache) Add(fingerprint string, in ml.ValidatedInput, result Result) {
	c.cache.Add(cacheKey(fingerprint, in), result)
}

func (c *ResultCache) Len() int { return c.cache.Len() }
