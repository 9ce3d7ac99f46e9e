// Package monitoring carries the service-wide diagnostic logger. Every
// package logs through Logf so a deployment can redirect or silence the
// whole service in one place.
package monitoring

import "log"

// Logf writes one diagnostic line. Defaults to log.Printf.
var Logf = log.Printf

func nopLogf(string, ...interface{}) {}

// SetLogger replaces Logf. A nil f mutes logging entirely.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = nopLogf
		return
	}
	Logf = f
}
