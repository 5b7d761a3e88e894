package cache

import (
	"context"
	"errors"
	"io"
)

var (
	ErrNotFound      = errors.New("cache entry not found")
	ErrAlreadyExists = errors.New("cache entry already exists")
)

type PutCondition int

const (
	PutUnconditional PutCondition = iota
	PutIfNoneMatch
)

type PutOptions struct {
	Condition PutCondition
}

type Cache interface {
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	Put(ctx context.Context, key, value string, opts PutOptions) error
	Delete(ctx context.Context, key string) error
}

// ListCache can enumerate keys under a prefix. Returned keys have the prefix trimmed.
type ListCache interface {
	Cache
	List(ctx context.Context, prefix string, continuation string) ([]string, error)
}

// GetString reads a whole entry.
func GetString(ctx context.Context, c Cache, key string) (string, error) {
	rc, err := c.Get(ctx, key)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = rc.Close()
	}()
	b, err := io.ReadAll(rc)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
