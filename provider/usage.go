package provider

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// UsageStats counts the outcomes of one online provider.
type UsageStats struct {
	Name string
	Tier Tier

	clock        clockwork.Clock
	mutex        sync.Mutex
	lastUsed     time.Time
	lastError    string
	successCount uint64
	failureCount uint64
}

func newUsageStats(d Descriptor, clock clockwork.Clock) *UsageStats {
	return &UsageStats{Name: d.Name, Tier: d.Tier, clock: clock}
}

func (u *UsageStats) Used(err error) {
	now := u.clock.Now()

	u.mutex.Lock()
	defer u.mutex.Unlock()

	u.lastUsed = now

	if err == nil {
		u.successCount += 1
		return
	}

	u.failureCount += 1
	u.lastError = err.Error()
}

func (u *UsageStats) Counts() (success, failure uint64) {
	u.mutex.Lock()
	defer u.mutex.Unlock()

	return u.successCount, u.failureCount
}

func (u *UsageStats) MarshalJSON() ([]byte, error) {
	var lastUsedTime int64

	u.mutex.Lock()

	if !u.lastUsed.IsZero() {
		lastUsedTime = u.lastUsed.Unix()
	}

	rawStruct := struct {
		Name         string `json:"name"`
		Tier         int    `json:"tier"`
		LastUsed     int64  `json:"last_used"`
		LastError    string `json:"last_error,omitempty"`
		SuccessCount uint64 `json:"success_count"`
		FailureCount uint64 `json:"failure_count"`
	}{
		Name:         u.Name,
		Tier:         int(u.Tier),
		LastUsed:     lastUsedTime,
		LastError:    u.lastError,
		SuccessCount: u.successCount,
		FailureCount: u.failureCount,
	}

	u.mutex.Unlock()

	return json.Marshal(&rawStruct)
}
