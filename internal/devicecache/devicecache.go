// Package devicecache is the per-device local state: who the device says it
// is, its last known selection per ballot, and a few UI flags. Entries are
// stored as JSON text so damaged values can be detected and dropped.
package devicecache

import (
	"encoding/json"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"

	"quarters/api/internal/ballot"
)

const (
	fieldProfile   = "profile"
	fieldSelection = "selection"
	fieldLocked    = "locked"
	fieldSidebar   = "sidebar"
	fieldGate      = "gate"

	sep = "|"
)

// Profile is the identity a device has entered.
type Profile struct {
	DisplayName string `json:"displayName"`
	IdentityKey string `json:"identityKey"`
}

type Cache struct {
	items *gocache.Cache
}

// New creates a cache whose entries expire after ttl of inactivity. A zero
// ttl keeps entries until they are removed.
func New(ttl time.Duration) *Cache {
	expiration := gocache.NoExpiration
	cleanup := time.Duration(0)
	if ttl > 0 {
		expiration = ttl
		cleanup = ttl / 2
		if cleanup < time.Minute {
			cleanup = time.Minute
		}
	}
	return &Cache{items: gocache.New(expiration, cleanup)}
}

func key(deviceID, field string, extra ...string) string {
	parts := append([]string{deviceID, field}, extra...)
	return strings.Join(parts, sep)
}

func (c *Cache) put(k string, value any) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	c.items.SetDefault(k, string(data))
}

// get decodes the entry at k into out. Entries that are not valid JSON of the
// expected shape are deleted and reported as missing.
func (c *Cache) get(k string, out any) bool {
	value, ok := c.items.Get(k)
	if !ok {
		return false
	}
	text, ok := value.(string)
	if !ok || json.Unmarshal([]byte(text), out) != nil {
		log.WithField("key", k).Warn("devicecache: discarding malformed entry")
		c.items.Delete(k)
		return false
	}
	return true
}

func (c *Cache) SetProfile(deviceID string, profile Profile) {
	c.put(key(deviceID, fieldProfile), profile)
}

func (c *Cache) Profile(deviceID string) (Profile, bool) {
	var profile Profile
	if !c.get(key(deviceID, fieldProfile), &profile) {
		return Profile{}, false
	}
	return profile, true
}

// ClearDevice forgets everything about the device. Used on change of name.
func (c *Cache) ClearDevice(deviceID string) {
	prefix := deviceID + sep
	for k := range c.items.Items() {
		if strings.HasPrefix(k, prefix) {
			c.items.Delete(k)
		}
	}
}

func (c *Cache) SetSelection(deviceID, ballotType string, sel ballot.Selection) {
	c.put(key(deviceID, fieldSelection, ballotType), sel)
}

// Selection is the device's last known selection for a ballot, read through
// shape. Missing or malformed entries yield the empty selection.
func (c *Cache) Selection(deviceID, ballotType string, shape ballot.Shape) (ballot.Selection, bool) {
	var sel ballot.Selection
	if !c.get(key(deviceID, fieldSelection, ballotType), &sel) {
		return shape.Empty(), false
	}
	return shape.Coerce(sel), true
}

func (c *Cache) SetLocked(deviceID, ballotType string, locked bool) {
	c.put(key(deviceID, fieldLocked, ballotType), locked)
}

func (c *Cache) Locked(deviceID, ballotType string) bool {
	var locked bool
	return c.get(key(deviceID, fieldLocked, ballotType), &locked) && locked
}

func (c *Cache) SetSidebar(deviceID string, open bool) {
	c.put(key(deviceID, fieldSidebar), open)
}

// Sidebar defaults to open.
func (c *Cache) Sidebar(deviceID string) bool {
	var open bool
	if !c.get(key(deviceID, fieldSidebar), &open) {
		return true
	}
	return open
}

func (c *Cache) SetGateUnlocked(deviceID string, unlocked bool) {
	c.put(key(deviceID, fieldGate), unlocked)
}

func (c *Cache) GateUnlocked(deviceID string) bool {
	var unlocked bool
	return c.get(key(deviceID, fieldGate), &unlocked) && unlocked
}

// ClearSelections drops the cached selection and lock of a ballot on every
// device whose profile belongs to one of identities.
func (c *Cache) ClearSelections(ballotType string, identities []string) int {
	wanted := make(map[string]struct{}, len(identities))
	for _, identity := range identities {
		wanted[identity] = struct{}{}
	}

	cleared := 0
	for k := range c.items.Items() {
		deviceID, field, ok := strings.Cut(k, sep)
		if !ok || field != fieldProfile {
			continue
		}
		profile, ok := c.Profile(deviceID)
		if !ok {
			continue
		}
		if _, match := wanted[profile.IdentityKey]; !match {
			continue
		}
		c.items.Delete(key(deviceID, fieldSelection, ballotType))
		c.items.Delete(key(deviceID, fieldLocked, ballotType))
		cleared++
	}
	return cleared
}
