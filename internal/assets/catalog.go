package assets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var ErrNotFound = errors.New("no average face for profile")

// Profile is the demographic bucket an average face was built from.
type Profile struct {
	Gender    string // "m" or "f"
	Ethnicity string // e.g. "w"
	AgeGroup  string // e.g. "13-18", "55"
}

// Key is the catalog key, gender then ethnicity then age group: "mw13-18".
func (p Profile) Key() string {
	return strings.ToLower(p.Gender + p.Ethnicity + p.AgeGroup)
}

// WithAgeGroup returns p in another age group.
func (p Profile) WithAgeGroup(age string) Profile {
	p.AgeGroup = age
	return p
}

// Validate reports which fields are missing.
func (p Profile) Validate() error {
	var missing []string
	if p.Gender == "" {
		missing = append(missing, "gender")
	}
	if p.Ethnicity == "" {
		missing = append(missing, "ethnicity")
	}
	if p.AgeGroup == "" {
		missing = append(missing, "age group")
	}
	if len(missing) > 0 {
		return fmt.Errorf("incomplete profile: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// Entry locates the files of one average face.
type Entry struct {
	Key        string `json:"-"`
	ImagePath  string `json:"image"`
	PointsPath string `json:"points"`
}

// Catalog resolves profile keys to average face files.
type Catalog interface {
	Lookup(ctx context.Context, key string) (Entry, error)
}

// Manifest is a file-backed catalog:
//
//	{"averages": {"mw13-18": {"image": "mw13-18.jpg", "points": "mw13-18.json"}}}
//
// Relative paths are resolved against the manifest's directory.
type Manifest struct {
	Averages map[string]Entry `json:"averages"`

	dir string
}

// LoadManifest reads a manifest file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest %s: %w", path, err)
	}
	m.dir = filepath.Dir(path)
	return &m, nil
}

// Lookup implements Catalog.
func (m *Manifest) Lookup(ctx context.Context, key string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	e, ok := m.Averages[strings.ToLower(key)]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	e.Key = strings.ToLower(key)
	e.ImagePath = m.resolve(e.ImagePath)
	e.PointsPath = m.resolve(e.PointsPath)
	return e, nil
}

// Keys lists the catalog keys in order.
func (m *Manifest) Keys() []string {
	keys := make([]string, 0, len(m.Averages))
	for k := range m.Averages {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (m *Manifest) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || m.dir == "" {
		return p
	}
	return filepath.Join(m.dir, p)
}
