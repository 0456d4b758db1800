// Package klog sets up the structured logging every core subsystem uses.
package klog

import log "github.com/sirupsen/logrus"

// For configures a per-subsystem logger, tagging every log line with the
// component it came from.
func For(component string) *log.Entry {
	return log.WithField("component", component)
}

// SetLevel sets the global log level, e.g. from a -debug command line flag.
func SetLevel(debug bool) {
	if debug {
		log.SetLevel(log.DebugLevel)
		return
	}
	log.SetLevel(log.InfoLevel)
}

func init() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
}
