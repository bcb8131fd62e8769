package client

import (
	"sync"
	"time"

	"github.com/Aquahulk/HealTara-sub003/libs/events"
)

// AvailabilityCache keeps the last fetched availability per (doctor, date)
// and patches it in place from realtime events. Fetches are sequenced so a
// slow response can never overwrite a newer one: callers take a sequence
// with BeginFetch and the cache only applies the response carrying the
// latest sequence for that key.
type AvailabilityCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]*cacheEntry
	now     func() time.Time
}

type cacheEntry struct {
	seq       uint64 // latest fetch begun for this key
	data      Combined
	haveData  bool
	fetchedAt time.Time
}

const DefaultCacheTTL = 30 * time.Second

func NewAvailabilityCache(ttl time.Duration) *AvailabilityCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &AvailabilityCache{
		ttl:     ttl,
		entries: make(map[string]*cacheEntry),
		now:     time.Now,
	}
}

func cacheKey(doctorID, date string) string { return doctorID + "|" + date }

// BeginFetch registers an in-flight fetch and returns its sequence number.
func (c *AvailabilityCache) BeginFetch(doctorID, date string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entry(doctorID, date)
	e.seq++
	return e.seq
}

// ApplyFetch stores a fetched response. It reports false, and stores
// nothing, when a newer fetch has begun since seq was taken.
func (c *AvailabilityCache) ApplyFetch(doctorID, date string, seq uint64, data Combined) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entry(doctorID, date)
	if seq != e.seq {
		return false
	}
	e.data = data
	e.haveData = true
	e.fetchedAt = c.now()
	return true
}

// Get returns the cached view when one exists and is within TTL.
func (c *AvailabilityCache) Get(doctorID, date string) (Combined, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[cacheKey(doctorID, date)]
	if !ok || !e.haveData {
		return Combined{}, false
	}
	if c.now().Sub(e.fetchedAt) > c.ttl {
		return Combined{}, false
	}
	return e.data, true
}

// Invalidate drops the cached data for one key. The fetch sequence is kept
// so in-flight responses for the key still resolve correctly.
func (c *AvailabilityCache) Invalidate(doctorID, date string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[cacheKey(doctorID, date)]; ok {
		e.haveData = false
		e.data = Combined{}
	}
}

// ApplyEvent patches cached views from a realtime event, so every tab on
// the device converges without refetching. Events the cache cannot apply
// precisely fall back to invalidation.
func (c *AvailabilityCache) ApplyEvent(evt events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch evt.Type {
	case events.TypeAppointmentUpdated, events.TypeAppointmentUpdatedOptimistic:
		if evt.Payload == nil || evt.Payload.DoctorID == "" || evt.Payload.Date == "" {
			return
		}
		target := cacheKey(evt.Payload.DoctorID, evt.Payload.Date)
		// A reschedule may have moved the slot off another cached date;
		// release it from every entry it no longer belongs to.
		for key, e := range c.entries {
			if key == target || !e.haveData {
				continue
			}
			c.applyCancel(e, evt.ID)
		}
		if e, ok := c.entries[target]; ok && e.haveData {
			c.applyUpdate(e, evt)
		}
	case events.TypeAppointmentCancelled:
		// Cancellations carry the appointment id only; locate the slot.
		for _, e := range c.entries {
			if !e.haveData {
				continue
			}
			c.applyCancel(e, evt.ID)
		}
	}
}

func (c *AvailabilityCache) applyUpdate(e *cacheEntry, evt events.Event) {
	for i := range e.data.Slots {
		s := &e.data.Slots[i]
		if s.ID != evt.ID {
			continue
		}
		if s.Time != evt.Payload.Time {
			// Rescheduled within the day: release the old hour before
			// counting the new one. A pure status flip moves nothing.
			c.bumpHour(e, s.Time, -1)
			c.bumpHour(e, evt.Payload.Time, +1)
		}
		s.Date = evt.Payload.Date
		s.Time = evt.Payload.Time
		s.Status = evt.Payload.Status
		return
	}
	e.data.Slots = append(e.data.Slots, Slot{
		ID:     evt.ID,
		Date:   evt.Payload.Date,
		Time:   evt.Payload.Time,
		Status: evt.Payload.Status,
	})
	c.bumpHour(e, evt.Payload.Time, +1)
}

func (c *AvailabilityCache) applyCancel(e *cacheEntry, apptID string) {
	for i, s := range e.data.Slots {
		if s.ID != apptID {
			continue
		}
		e.data.Slots = append(e.data.Slots[:i], e.data.Slots[i+1:]...)
		c.bumpHour(e, s.Time, -1)
		return
	}
}

func (c *AvailabilityCache) bumpHour(e *cacheEntry, clock string, delta int) {
	if len(clock) != 5 {
		return
	}
	hour := int(clock[0]-'0')*10 + int(clock[1]-'0')
	for i := range e.data.Availability.Hours {
		b := &e.data.Availability.Hours[i]
		if b.Hour != hour {
			continue
		}
		b.BookedCount += delta
		if b.BookedCount < 0 {
			b.BookedCount = 0
		}
		b.IsFull = b.Capacity > 0 && b.BookedCount >= b.Capacity
		return
	}
}

func (c *AvailabilityCache) entry(doctorID, date string) *cacheEntry {
	key := cacheKey(doctorID, date)
	e, ok := c.entries[key]
	if !ok {
		e = &cacheEntry{}
		c.entries[key] = e
	}
	return e
}
