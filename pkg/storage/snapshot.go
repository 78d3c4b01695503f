package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"certcrawler/pkg/utils"
)

// WriteSnapshot writes v as timestamped, indented JSON under dir. Snapshot
// export is best-effort: callers log the returned error and move on, a
// failed write never fails the crawl.
func WriteSnapshot(dir, name string, v interface{}, log *logrus.Entry) (string, error) {
	if dir == "" {
		return "", nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("%w: creating snapshot directory %s: %v", utils.ErrFilesystem, dir, err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("%w: encoding snapshot %s: %v", utils.ErrFilesystem, name, err)
	}

	filename := fmt.Sprintf("%s_%s.json", utils.SanitizeFilename(name), time.Now().Format("20060102_150405"))
	path := filepath.Join(dir, filename)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("%w: writing snapshot %s: %v", utils.ErrFilesystem, path, err)
	}

	log.WithFields(logrus.Fields{"path": path, "bytes": len(data)}).Info("Snapshot written")
	return path, nil
}
