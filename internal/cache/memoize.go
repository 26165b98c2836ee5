package cache

import "context"

// Memoize wraps an arbitrary read function with the cache.
//
// On a hit the cached value is returned without invoking fn. On a miss
// fn is called; its result is stored under key with the given options
// and returned. When fn fails the cache is bypassed entirely: nothing
// is stored and the error propagates to the caller.
//
// A cached value of the wrong dynamic type is treated as a miss and
// recomputed, which can only happen when two call sites share a key.
func Memoize[T any](ctx context.Context, c *Cache, key string, opts SetOptions, fn func(context.Context) (T, error)) (T, error) {
	if cached, ok := c.Get(key); ok {
		if value, ok := cached.(T); ok {
			return value, nil
		}
	}

	value, err := fn(ctx)
	if err != nil {
		var zero T
		return zero, err
	}

	c.Set(key, value, opts)
	return value, nil
}
