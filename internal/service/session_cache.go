package service

import (
	"sync"
	"time"

	"github.com/channelworks/partner-sync-api/internal/remote"
)

// SessionCache holds LMS data fetched once per sync chain so the individual
// sync passes do not refetch the same catalog, group list, or user list. The
// cache belongs to exactly one chain: the orchestrator creates it and passes
// it down by parameter. Entries expire together with the session.
type SessionCache struct {
	id        string
	createdAt time.Time
	expiresAt time.Time

	mu            sync.Mutex
	groups        []remote.LMSGroup
	groupsByID    map[string]remote.LMSGroup
	users         []remote.LMSUser
	courses       []remote.LMSCourse
	partnerGroups map[string]string

	hits   int64
	misses int64
}

// CacheStats reports the cache efficiency of one sync session.
type CacheStats struct {
	SessionID string    `json:"session_id"`
	CreatedAt time.Time `json:"created_at"`
	Hits      int64     `json:"hits"`
	Misses    int64     `json:"misses"`
}

func NewSessionCache(id string, ttl time.Duration) *SessionCache {
	now := time.Now()
	return &SessionCache{
		id:            id,
		createdAt:     now,
		expiresAt:     now.Add(ttl),
		groupsByID:    make(map[string]remote.LMSGroup),
		partnerGroups: make(map[string]string),
	}
}

func (c *SessionCache) ID() string { return c.id }

// Expired reports whether the session has outlived its TTL. Expiry is lazy:
// nothing evicts the data, reads just stop returning it.
func (c *SessionCache) Expired() bool {
	return time.Now().After(c.expiresAt)
}

// Groups returns the cached group list, or ok=false on a miss.
func (c *SessionCache) Groups() ([]remote.LMSGroup, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.groups == nil || c.Expired() {
		c.misses++
		return nil, false
	}
	c.hits++
	return c.groups, true
}

func (c *SessionCache) SetGroups(groups []remote.LMSGroup) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.groups = groups
	c.groupsByID = make(map[string]remote.LMSGroup, len(groups))
	for _, group := range groups {
		c.groupsByID[group.ID] = group
	}
}

// Group returns one cached group by id.
func (c *SessionCache) Group(id string) (remote.LMSGroup, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.groups == nil || c.Expired() {
		c.misses++
		return remote.LMSGroup{}, false
	}
	group, ok := c.groupsByID[id]
	if !ok {
		c.misses++
		return remote.LMSGroup{}, false
	}
	c.hits++
	return group, true
}

// Users returns the cached full user list, or ok=false on a miss.
func (c *SessionCache) Users() ([]remote.LMSUser, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.users == nil || c.Expired() {
		c.misses++
		return nil, false
	}
	c.hits++
	return c.users, true
}

func (c *SessionCache) SetUsers(users []remote.LMSUser) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users = users
}

func (c *SessionCache) Courses() ([]remote.LMSCourse, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.courses == nil || c.Expired() {
		c.misses++
		return nil, false
	}
	c.hits++
	return c.courses, true
}

func (c *SessionCache) SetCourses(courses []remote.LMSCourse) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.courses = courses
}

// PartnerGroupID maps a local partner id to its LMS group id, populated by
// the group sync pass.
func (c *SessionCache) PartnerGroupID(partnerID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	groupID, ok := c.partnerGroups[partnerID]
	if !ok || c.Expired() {
		c.misses++
		return "", false
	}
	c.hits++
	return groupID, true
}

func (c *SessionCache) SetPartnerGroupID(partnerID, groupID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.partnerGroups[partnerID] = groupID
}

// Stats snapshots the hit and miss counters.
func (c *SessionCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{
		SessionID: c.id,
		CreatedAt: c.createdAt,
		Hits:      c.hits,
		Misses:    c.misses,
	}
}
