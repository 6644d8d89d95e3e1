// Package sessionstore persists one JSON record per session under a
// configurable directory. Writers for different names never conflict; the
// gateway guarantees a single in-flight save per name.
package sessionstore

import (
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"github.com/chatwire/chatwire/pkg/webhook"
)

// Record is the durable form of one session's configuration. Legacy records
// with missing fields load with zero values; a missing auth block means
// AuthNone.
type Record struct {
	Name          string              `json:"-"`
	Webhook       string              `json:"webhook,omitempty"`
	Auth          *webhook.AuthConfig `json:"auth,omitempty"`
	DisplayName   string              `json:"displayName"`
	PhoneNumber   string              `json:"phoneNumber"`
	Authenticated bool                `json:"authenticated"`
}

// AuthConfig returns the record's auth variant, defaulting to AuthNone.
func (r Record) AuthConfig() webhook.AuthConfig {
	if r.Auth == nil {
		return webhook.AuthConfig{Type: webhook.AuthNone}
	}
	return r.Auth.Normalize()
}

type Store struct {
	dir string
}

// NewStore opens (and creates if needed) the sessions directory.
func NewStore(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("session store: empty directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "session store: create directory")
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

// Save atomically replaces the on-disk record for rec.Name. The temp-file
// rename keeps readers from ever observing a half-written record.
func (s *Store) Save(rec Record) error {
	if s == nil {
		return errors.New("session store: store is nil")
	}
	if strings.TrimSpace(rec.Name) == "" {
		return errors.New("session store: record has no name")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "session store: marshal record")
	}
	tmp, err := os.CreateTemp(s.dir, rec.Name+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "session store: create temp file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return errors.Wrap(err, "session store: write record")
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrap(err, "session store: close temp file")
	}
	if err := os.Rename(tmpName, s.path(rec.Name)); err != nil {
		_ = os.Remove(tmpName)
		return errors.Wrap(err, "session store: replace record")
	}
	return nil
}

// Load reads one record by name.
func (s *Store) Load(name string) (Record, error) {
	var rec Record
	if s == nil {
		return rec, errors.New("session store: store is nil")
	}
	data, err := os.ReadFile(s.path(name))
	if err != nil {
		return rec, errors.Wrapf(err, "session store: read record %q", name)
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, errors.Wrapf(err, "session store: decode record %q", name)
	}
	rec.Name = name
	return rec, nil
}

// ListAll reads every record in the directory. Malformed entries are
// reported individually in the second return value; they never abort the
// listing.
func (s *Store) ListAll() ([]Record, []error) {
	if s == nil {
		return nil, []error{errors.New("session store: store is nil")}
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, []error{errors.Wrap(err, "session store: read directory")}
	}
	var (
		records []Record
		bad     []error
	)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), ".json")
		rec, err := s.Load(name)
		if err != nil {
			bad = append(bad, err)
			continue
		}
		records = append(records, rec)
	}
	return records, bad
}

// Delete removes the record for name. Deleting an absent record is a no-op.
func (s *Store) Delete(name string) error {
	if s == nil {
		return errors.New("session store: store is nil")
	}
	if err := os.Remove(s.path(name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return errors.Wrapf(err, "session store: delete record %q", name)
	}
	return nil
}
