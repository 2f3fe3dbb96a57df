package geolib

import (
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// UsageStats tracks how a provider is used by LookupCache.
type UsageStats struct {
	Name string

	mutex         sync.Mutex
	lastUpdated   time.Time
	lastUsed      time.Time
	successCount  uint64
	notFoundCount uint64
	failureCount  uint64
}

// Used registers a result of provider query. ErrNotFound is a valid
// outcome and is counted separately from failures.
func (u *UsageStats) Used(err error) {
	now := time.Now()

	u.mutex.Lock()
	defer u.mutex.Unlock()

	u.lastUsed = now

	switch {
	case err == nil:
		u.successCount++
	case errors.Is(err, ErrNotFound):
		u.notFoundCount++
	default:
		u.failureCount++
	}
}

// Updated registers that a dataset of provider was reloaded.
func (u *UsageStats) Updated() {
	now := time.Now()

	u.mutex.Lock()
	defer u.mutex.Unlock()

	u.lastUpdated = now
}

func (u *UsageStats) MarshalJSON() ([]byte, error) {
	var lastUpdatedTime, lastUsedTime int64

	u.mutex.Lock()

	if !u.lastUpdated.IsZero() {
		lastUpdatedTime = u.lastUpdated.Unix()
	}

	if !u.lastUsed.IsZero() {
		lastUsedTime = u.lastUsed.Unix()
	}

	rawStruct := struct {
		Name          string `json:"name"`
		LastUpdated   int64  `json:"last_updated"`
		LastUsed      int64  `json:"last_used"`
		SuccessCount  uint64 `json:"success_count"`
		NotFoundCount uint64 `json:"not_found_count"`
		FailureCount  uint64 `json:"failure_count"`
	}{
		Name:          u.Name,
		LastUpdated:   lastUpdatedTime,
		LastUsed:      lastUsedTime,
		SuccessCount:  u.successCount,
		NotFoundCount: u.notFoundCount,
		FailureCount:  u.failureCount,
	}

	u.mutex.Unlock()

	return json.Marshal(&rawStruct)
}
