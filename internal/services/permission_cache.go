package services

import (
	"sync"

	"github.com/arkadian/voicelounge/internal/models"
)

// permissionCache is a read-through index of owner -> stored permission rows.
// An owner's rows are loaded whole on first read and served from memory until
// a mutation or store error invalidates them; invalidated owners are rebuilt
// whole on the next read rather than patched in place.
type permissionCache struct {
	mu      sync.RWMutex
	byOwner map[int64][]models.ChannelPermission
}

func newPermissionCache() *permissionCache {
	return &permissionCache{byOwner: make(map[int64][]models.ChannelPermission)}
}

// rowsFor returns a copy of the owner's cached rows and whether the owner is
// resident.
func (c *permissionCache) rowsFor(ownerID int64) ([]models.ChannelPermission, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rows, ok := c.byOwner[ownerID]
	if !ok {
		return nil, false
	}
	return append([]models.ChannelPermission(nil), rows...), true
}

// store makes the owner resident with the given rows.
func (c *permissionCache) store(ownerID int64, rows []models.ChannelPermission) {
	cpy := append([]models.ChannelPermission(nil), rows...)

	c.mu.Lock()
	c.byOwner[ownerID] = cpy
	c.mu.Unlock()
}

// invalidate evicts one owner.
func (c *permissionCache) invalidate(ownerID int64) {
	c.mu.Lock()
	delete(c.byOwner, ownerID)
	c.mu.Unlock()
}

// invalidateAll evicts every owner. Used by mutations that span owners.
func (c *permissionCache) invalidateAll() {
	c.mu.Lock()
	c.byOwner = make(map[int64][]models.ChannelPermission)
	c.mu.Unlock()
}
