//go:build !darwin
// +build !darwin

package power

// Non-darwin platforms have no equivalent to IOPMAssertionCreateWithName
// wired up yet; the hold is a no-op so sessions still function, just
// without an idle-sleep guarantee.
func assertIdleSleepPrevention() error {
	return nil
}

func releaseIdleSleepPrevention() {}

// WatchSleep is a no-op outside darwin; no wake notifications are produced.
func (c *Coordinator) WatchSleep() {}
