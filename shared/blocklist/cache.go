// Package blocklist keeps the last known set of admin-blocked IPs in memory.
// The ledger stays authoritative; the cache answers only while it is
// unreachable.
package blocklist

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/storefront-dev/storefront/shared/domain"
)

// Storage is the read side the cache is populated from.
type Storage interface {
	BlockedIPs(ctx context.Context) ([]domain.IP, error)
}

type override struct {
	blocked bool
	at      time.Time
}

type Cache struct {
	storage Storage
	logger  *slog.Logger

	mu        sync.RWMutex
	blocked   map[domain.IP]struct{}
	overrides map[domain.IP]override

	now func() time.Time
}

func NewCache(storage Storage, logger *slog.Logger) *Cache {
	return &Cache{
		storage:   storage,
		logger:    logger,
		blocked:   make(map[domain.IP]struct{}),
		overrides: make(map[domain.IP]override),
		now:       time.Now,
	}
}

// Update replaces the cached set with the stored one. Changes applied with
// Set after the read started survive the swap.
func (c *Cache) Update(ctx context.Context) error {
	started := c.now()
	ips, err := c.storage.BlockedIPs(ctx)
	if err != nil {
		return err
	}

	fresh := make(map[domain.IP]struct{}, len(ips))
	for _, ip := range ips {
		fresh[ip] = struct{}{}
	}

	c.mu.Lock()
	for ip, o := range c.overrides {
		if o.at.Before(started) {
			delete(c.overrides, ip)
			continue
		}
		if o.blocked {
			fresh[ip] = struct{}{}
		} else {
			delete(fresh, ip)
		}
	}
	c.blocked = fresh
	c.mu.Unlock()

	c.logger.Debug("blocklist updated", "entries", len(fresh))
	return nil
}

// Set applies a block change made by this process without waiting for the
// next refresh.
func (c *Cache) Set(ip domain.IP, blocked bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.overrides[ip] = override{blocked: blocked, at: c.now()}
	if blocked {
		c.blocked[ip] = struct{}{}
	} else {
		delete(c.blocked, ip)
	}
}

// IsIPBlocked never fails; the error is there to satisfy the gate.
func (c *Cache) IsIPBlocked(_ context.Context, ip domain.IP) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.blocked[ip]
	return ok, nil
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.blocked)
}

// StartBackgroundUpdate refreshes the cache every interval until ctx is done.
func (c *Cache) StartBackgroundUpdate(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	c.logger.Info("started blocklist refresh", "interval", interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := c.Update(ctx); err != nil {
					c.logger.Error("blocklist update failed", "error", err)
				}
			case <-ctx.Done():
				c.logger.Info("blocklist refresh stopped")
				return
			}
		}
	}()
}
