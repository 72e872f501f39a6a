package session

import (
	"sync"
	"time"
)

var timeMu sync.RWMutex

// fakeTime overrides timeNow when set.
var fakeTime *time.Time

// timeNow returns the time used for handshakes and chain verification.
func timeNow() time.Time {
	timeMu.RLock()
	defer timeMu.RUnlock()
	if fakeTime != nil {
		return *fakeTime
	}
	return time.Now()
}

// setFakeTime pins timeNow to t. The returned func restores real time.
func setFakeTime(t time.Time) func() {
	timeMu.Lock()
	defer timeMu.Unlock()
	fakeTime = &t
	return func() {
		timeMu.Lock()
		defer timeMu.Unlock()
		fakeTime = nil
	}
}
