// Package cache holds short-lived department read models (area and
// category lists) in front of the database.
package cache

import (
	"context"
	"fmt"
	"time"
)

// Cache stores JSON encodable values by key
type Cache interface {
	// Get decodes the value under key into dst and reports whether it was found
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	DeletePrefix(ctx context.Context, prefix string) error
}

// DepartmentKey names a cached list of a department
func DepartmentKey(deptID uint, kind string) string {
	return fmt.Sprintf("%s%s", DepartmentPrefix(deptID), kind)
}

// DepartmentPrefix covers every key of one department
func DepartmentPrefix(deptID uint) string {
	return fmt.Sprintf("dept:%d:", deptID)
}

// ReadThrough returns the cached value under key, or calls load and caches
// its result. A nil cache or a failing backend degrades to calling load.
func ReadThrough[T any](ctx context.Context, c Cache, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	if c != nil {
		var cached T
		if ok, err := c.Get(ctx, key, &cached); err == nil && ok {
			return cached, nil
		}
	}

	v, err := load(ctx)
	if err != nil {
		return v, err
	}
	if c != nil {
		_ = c.Set(ctx, key, v, ttl)
	}
	return v, nil
}
