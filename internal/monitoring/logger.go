// Package monitoring holds the pipeline's diagnostic logging hook.
package monitoring

import "log"

func discard(string, ...any) {}

// Logf reports pipeline progress and anomalies. It writes through
// log.Printf unless redirected with SetLogger.
var Logf func(format string, v ...any) = log.Printf

// SetLogger redirects Logf. A nil argument mutes logging entirely.
func SetLogger(f func(format string, v ...any)) {
	if f == nil {
		Logf = discard
		return
	}
	Logf = f
}
