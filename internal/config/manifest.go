package config

import (
	"os"
	"reflect"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/zeusync/islandsync/internal/core/lifecycle"
	"github.com/zeusync/islandsync/internal/core/store"
	"github.com/zeusync/islandsync/internal/core/streams"
)

var ErrInvalidManifest = errors.New("invalid island manifest")

// Manifest lists the mount points of a page.
type Manifest struct {
	Islands []Island `yaml:"islands"`
}

// Island is one mount point as the markup layer would describe it.
type Island struct {
	ID         string                      `yaml:"id"`
	Component  string                      `yaml:"component"`
	Strategy   string                      `yaml:"strategy,omitempty"`
	Props      map[string]any              `yaml:"props,omitempty"`
	GlobalKeys []string                    `yaml:"global_keys,omitempty"`
	Streams    map[string][]map[string]any `yaml:"streams,omitempty"`
	Hydration  *Hydration                  `yaml:"hydration,omitempty"`
}

// Hydration is the server-rendered state of a standalone island.
type Hydration struct {
	Props          map[string]any `yaml:"props,omitempty"`
	Globals        map[string]any `yaml:"globals,omitempty"`
	GlobalsVersion int64          `yaml:"globals_version"`
}

// LoadManifest reads and validates the manifest at path.
func LoadManifest(path string) (Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Manifest{}, errors.Wrapf(err, "read manifest %s", path)
	}
	return ParseManifest(data)
}

// ParseManifest decodes and validates a manifest.
func ParseManifest(data []byte) (Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Manifest{}, errors.Wrap(err, "decode manifest")
	}
	if err := m.Validate(); err != nil {
		return Manifest{}, err
	}
	return m, nil
}

// Validate requires every island to carry a unique id and a component name.
func (m Manifest) Validate() error {
	seen := make(map[string]struct{}, len(m.Islands))
	for i, island := range m.Islands {
		if island.ID == "" {
			return errors.Wrapf(ErrInvalidManifest, "island %d has no id", i)
		}
		if island.Component == "" {
			return errors.Wrapf(ErrInvalidManifest, "island %q has no component", island.ID)
		}
		if _, ok := seen[island.ID]; ok {
			return errors.Wrapf(ErrInvalidManifest, "duplicate island id %q", island.ID)
		}
		seen[island.ID] = struct{}{}
	}
	return nil
}

// Descriptor converts the island into a mount descriptor.
func (i Island) Descriptor() lifecycle.Descriptor {
	strategy, overwrite := lifecycle.ParseStrategy(i.Strategy)
	desc := lifecycle.Descriptor{
		ID:            i.ID,
		ComponentName: i.Component,
		Strategy:      strategy,
		Overwrite:     overwrite,
		InitialProps:  store.MergeFields(nil, i.Props),
		GlobalKeys:    i.GlobalKeys,
	}
	if len(i.Streams) > 0 {
		desc.Streams = make(map[string][]streams.Item, len(i.Streams))
		for name, items := range i.Streams {
			list := make([]streams.Item, len(items))
			for j, item := range items {
				list[j] = item
			}
			desc.Streams[name] = list
		}
	}
	if i.Hydration != nil {
		desc.Hydration = &lifecycle.Hydration{
			Props:          i.Hydration.Props,
			Globals:        i.Hydration.Globals,
			GlobalsVersion: i.Hydration.GlobalsVersion,
		}
	}
	return desc
}

// ManifestDiff is what changed between two manifests.
type ManifestDiff struct {
	Added   []Island
	Removed []string
	// Changed islands keep their id but differ in any other field.
	Changed []Island
}

// Empty reports whether the manifests were equivalent.
func (d ManifestDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// Diff compares next against m. Order follows the manifests.
func (m Manifest) Diff(next Manifest) ManifestDiff {
	prev := make(map[string]Island, len(m.Islands))
	for _, island := range m.Islands {
		prev[island.ID] = island
	}

	var diff ManifestDiff
	kept := make(map[string]struct{}, len(next.Islands))
	for _, island := range next.Islands {
		kept[island.ID] = struct{}{}
		old, ok := prev[island.ID]
		switch {
		case !ok:
			diff.Added = append(diff.Added, island)
		case !reflect.DeepEqual(old, island):
			diff.Changed = append(diff.Changed, island)
		}
	}
	for _, island := range m.Islands {
		if _, ok := kept[island.ID]; !ok {
			diff.Removed = append(diff.Removed, island.ID)
		}
	}
	return diff
}
