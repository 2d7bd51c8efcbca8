// Package applock detects whether a companion app is currently
// running by probing the log file the app keeps open for its whole
// lifetime. Restores must not run concurrently with the app.
package applock

import "errors"

// ErrAppRunning reports that another process holds the probed file.
var ErrAppRunning = errors.New("companion app appears to be running")

// Probe returns nil when path does not exist or can be claimed
// exclusively, and ErrAppRunning when the app holds it.
func Probe(path string) error {
	return probe(path)
}
