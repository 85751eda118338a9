// Package deviceinfo reads the per-category device-info snapshots written by
// the device info collector, one <InfoClass>.deviceinfo.json file per class.
package deviceinfo

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
)

// FileSuffix names device-info snapshot files.
const FileSuffix = ".deviceinfo.json"

// Snapshot holds the raw JSON document of every loaded info class.
type Snapshot struct {
	docs map[string][]byte
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() *Snapshot {
	return &Snapshot{docs: make(map[string][]byte)}
}

// FileName returns the snapshot file name of infoClass.
func FileName(infoClass string) string {
	return infoClass + FileSuffix
}

// LoadDir loads every *.deviceinfo.json under dir. Files that are not valid
// JSON objects are skipped; their fields stay unavailable.
func LoadDir(dir string) (*Snapshot, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "deviceinfo: read dir %s", dir)
	}
	snap := NewSnapshot()
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, FileSuffix) {
			continue
		}
		infoClass := strings.TrimSuffix(name, FileSuffix)
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("read device info file failed")
			continue
		}
		if err := snap.Add(infoClass, data); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("skip malformed device info file")
		}
	}
	log.Debug().Str("dir", dir).Int("classes", snap.Classes()).Msg("device info loaded")
	return snap, nil
}

// Add registers the JSON document of infoClass, replacing any earlier one.
func (s *Snapshot) Add(infoClass string, data []byte) error {
	infoClass = strings.TrimSpace(infoClass)
	if infoClass == "" {
		return errors.New("deviceinfo: empty info class")
	}
	if !gjson.ValidBytes(data) {
		return errors.Errorf("deviceinfo: %s is not valid json", infoClass)
	}
	if !gjson.ParseBytes(data).IsObject() {
		return errors.Errorf("deviceinfo: %s is not a json object", infoClass)
	}
	s.docs[infoClass] = append([]byte(nil), data...)
	return nil
}

// Classes reports how many info classes are loaded.
func (s *Snapshot) Classes() int {
	if s == nil {
		return 0
	}
	return len(s.docs)
}

// Lookup returns the scalar value of field in the infoClass document.
// Booleans and numbers keep their JSON spelling; nulls, objects and arrays
// are treated as absent.
func (s *Snapshot) Lookup(infoClass, field string) (string, bool) {
	if s == nil {
		return "", false
	}
	doc, ok := s.docs[infoClass]
	if !ok {
		return "", false
	}
	res := gjson.GetBytes(doc, gjson.Escape(field))
	switch res.Type {
	case gjson.String, gjson.Number, gjson.True, gjson.False:
		return res.String(), true
	default:
		return "", false
	}
}
