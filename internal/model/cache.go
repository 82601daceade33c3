package model

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Cache shares loaded models across requests.
//
// Loading is single-writer: concurrent requests for the same model wait on
// one load through singleflight, and only that load writes the map.
// Inference is many-reader: a Loaded is immutable after load, so any number
// of requests may call Translate on it at once. A failed load is not cached.
type Cache struct {
	loader *Loader

	mu     sync.RWMutex
	models map[string]*Loaded
	group  singleflight.Group
}

func NewCache(loader *Loader) *Cache {
	return &Cache{
		loader: loader,
		models: make(map[string]*Loaded),
	}
}

func (c *Cache) get(modelID string) (*Loaded, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.models[modelID]
	return m, ok
}

// Acquire returns the shared model, loading it on first use. Release is a
// no-op; cached models live until Close.
func (c *Cache) Acquire(ctx context.Context, modelID string) (Model, func(), error) {
	if m, ok := c.get(modelID); ok {
		return m, func() {}, nil
	}

	v, err, _ := c.group.Do(modelID, func() (interface{}, error) {
		if m, ok := c.get(modelID); ok {
			return m, nil
		}
		// Waiters share this load, so one caller going away must not fail it.
		m, err := c.loader.Load(context.WithoutCancel(ctx), modelID)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.models[modelID] = m
		c.mu.Unlock()
		return m, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return v.(*Loaded), func() {}, nil
}

// Len returns the number of cached models.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.models)
}

// Close unloads every cached model and empties the cache.
func (c *Cache) Close(ctx context.Context) error {
	c.mu.Lock()
	models := c.models
	c.models = make(map[string]*Loaded)
	c.mu.Unlock()

	var errs []error
	for _, m := range models {
		if err := m.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
