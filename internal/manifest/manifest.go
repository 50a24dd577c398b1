// Package manifest reads the knot-manifest.toml file describing a
// package and the version being published, and converts it into API
// payloads.
package manifest

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/knotty-dev/knotty/internal/model"
	"github.com/knotty-dev/knotty/internal/schema"
)

const DefaultFile = "knot-manifest.toml"

type Manifest struct {
	Package PackageSection `toml:"package"`
	Version VersionSection `toml:"version"`

	// Checksums maps algorithm name to hex digest; Dependencies maps
	// package name to a version spec.
	Checksums    map[string]string `toml:"checksums"`
	Dependencies map[string]string `toml:"dependencies"`
}

type PackageSection struct {
	Name      string   `toml:"name"`
	Summary   string   `toml:"summary"`
	Namespace *string  `toml:"namespace"`
	Labels    []string `toml:"labels"`
	Owners    []string `toml:"owners"`
}

type VersionSection struct {
	Version     string  `toml:"version"`
	Description string  `toml:"description"`
	Repository  *string `toml:"repository"`
	Tarball     *string `toml:"tarball"`
}

func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if m.Package.Name == "" {
		return nil, fmt.Errorf("%s: package.name is required", path)
	}
	return &m, nil
}

// VersionPayload builds the version create/edit body. Checksum values
// are folded to lowercase; maps are emitted in sorted order so the
// payload is stable.
func (m *Manifest) VersionPayload() schema.PackageVersionCreate {
	payload := schema.PackageVersionCreate{
		Version:     m.Version.Version,
		Description: m.Version.Description,
		Repository:  m.Version.Repository,
		Tarball:     m.Version.Tarball,
	}

	for _, algo := range sortedKeys(m.Checksums) {
		payload.Checksums = append(payload.Checksums, schema.PackageChecksum{
			Algorithm: model.ChecksumAlgorithm(strings.ToLower(algo)),
			Value:     strings.ToLower(m.Checksums[algo]),
		})
	}
	for _, name := range sortedKeys(m.Dependencies) {
		payload.Dependencies = append(payload.Dependencies, schema.PackageDependency{
			Package: name,
			Spec:    m.Dependencies[name],
		})
	}
	return payload
}

// PackagePayload builds the initial publish body: the package with its
// first version.
func (m *Manifest) PackagePayload() schema.PackageCreate {
	return schema.PackageCreate{
		Name:      m.Package.Name,
		Summary:   m.Package.Summary,
		Namespace: m.Package.Namespace,
		Labels:    m.Package.Labels,
		Owners:    m.Package.Owners,
		Versions:  []schema.PackageVersionCreate{m.VersionPayload()},
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
