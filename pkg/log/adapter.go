// Package log contains logging glue shared across the crawler.
package log

import "github.com/sirupsen/logrus"

// BadgerAdapter satisfies badger.Logger on top of a logrus entry. Badger's
// Infof output is chatty during compaction, so it is demoted to debug; the
// crawl log stays readable at info level.
type BadgerAdapter struct {
	entry *logrus.Entry
}

// NewBadgerAdapter wraps the given entry for use as a badger.Logger.
func NewBadgerAdapter(entry *logrus.Entry) *BadgerAdapter {
	return &BadgerAdapter{entry: entry}
}

func (a *BadgerAdapter) Errorf(f string, v ...interface{})   { a.entry.Errorf(f, v...) }
func (a *BadgerAdapter) Warningf(f string, v ...interface{}) { a.entry.Warningf(f, v...) }
func (a *BadgerAdapter) Infof(f string, v ...interface{})    { a.entry.Debugf(f, v...) }
func (a *BadgerAdapter) Debugf(f string, v ...interface{})   { a.entry.Debugf(f, v...) }
