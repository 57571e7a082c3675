package clock

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// HLC implements a simple hybrid logical clock. Stamps are lexicographically
// sortable, so they double as the stored order of the envelope log.
type HLC struct {
	mu           sync.Mutex
	lastPhysical int64
	logical      uint32
}

// NewHLC returns a new HLC instance.
func NewHLC() *HLC {
	return &HLC{}
}

// Next returns the next stamp, strictly greater than any previous one.
func (h *HLC) Next() string {
	now := time.Now().UTC().UnixNano()
	h.mu.Lock()
	if now > h.lastPhysical {
		h.lastPhysical = now
		h.logical = 0
	} else {
		h.logical++
	}
	physical := h.lastPhysical
	logical := h.logical
	h.mu.Unlock()
	return formatStamp(physical, logical)
}

// Update advances the clock if the provided stamp is ahead, so stamps issued
// after seeing it sort later. The store seeds its clock from the newest
// persisted stamp this way on open.
func (h *HLC) Update(stamp string) bool {
	physical, logical, ok := parseStamp(stamp)
	if !ok {
		return false
	}
	h.mu.Lock()
	updated := false
	switch {
	case physical > h.lastPhysical:
		h.lastPhysical = physical
		h.logical = logical
		updated = true
	case physical == h.lastPhysical && logical > h.logical:
		h.logical = logical
		updated = true
	}
	h.mu.Unlock()
	return updated
}

func parseStamp(stamp string) (int64, uint32, bool) {
	parts := strings.SplitN(stamp, "-", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	physical, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, false
	}
	logical64, err := strconv.ParseUint(parts[1], 10, 32)
	if err != nil {
		return 0, 0, false
	}
	return physical, uint32(logical64), true
}

func formatStamp(physical int64, logical uint32) string {
	return fmt.Sprintf("%019d-%010d", physical, logical)
}
