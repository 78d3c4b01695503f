package log

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func captureEntry(level logrus.Level) (*logrus.Entry, *bytes.Buffer) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetLevel(level)
	return logrus.NewEntry(logger), &buf
}

func TestBadgerAdapter_Methods(t *testing.T) {
	entry, _ := captureEntry(logrus.DebugLevel)
	adapter := NewBadgerAdapter(entry)

	assert.NotPanics(t, func() { adapter.Errorf("error %s", "test") })
	assert.NotPanics(t, func() { adapter.Warningf("warning %d", 42) })
	assert.NotPanics(t, func() { adapter.Infof("info %v", true) })
	assert.NotPanics(t, func() { adapter.Debugf("debug") })
}

func TestBadgerAdapter_DemotesInfoToDebug(t *testing.T) {
	entry, buf := captureEntry(logrus.InfoLevel)
	adapter := NewBadgerAdapter(entry)

	adapter.Infof("compaction chatter %d", 7)
	assert.Empty(t, buf.String(), "badger info is hidden at info level")

	adapter.Errorf("real problem")
	assert.Contains(t, buf.String(), "real problem")
}
