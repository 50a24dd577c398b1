package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/knotty-dev/knotty/internal/model"
)

func writeManifest(t *testing.T, contents string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), DefaultFile)
	if err := os.WriteFile(p, []byte(contents), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	return p
}

const fullManifest = `
[package]
name = "libfoo"
summary = "A foo library"
namespace = "tools"
labels = ["math", "fast"]
owners = ["alice", "bob"]

[version]
version = "1.2.3"
description = "Adds bar support"
repository = "https://git.example.com/libfoo"
tarball = "https://dl.example.com/libfoo-1.2.3.tar.gz"

[checksums]
SHA256 = "AABBCCDD00112233AABBCCDD00112233AABBCCDD00112233AABBCCDD00112233"
md5 = "00112233445566778899aabbccddeeff"

[dependencies]
libbar = ">=2.0"
libbaz = "~1.4"
`

func TestLoadFullManifest(t *testing.T) {
	m, err := Load(writeManifest(t, fullManifest))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if m.Package.Name != "libfoo" || m.Package.Summary != "A foo library" {
		t.Fatalf("package section: %+v", m.Package)
	}
	if m.Package.Namespace == nil || *m.Package.Namespace != "tools" {
		t.Fatalf("namespace: %v", m.Package.Namespace)
	}
	if m.Version.Version != "1.2.3" {
		t.Fatalf("version: %q", m.Version.Version)
	}
	if len(m.Checksums) != 2 || len(m.Dependencies) != 2 {
		t.Fatalf("checksums %v deps %v", m.Checksums, m.Dependencies)
	}
}

func TestLoadRequiresPackageName(t *testing.T) {
	p := writeManifest(t, "[version]\nversion = \"1.0.0\"\n")
	if _, err := Load(p); err == nil || !strings.Contains(err.Error(), "package.name") {
		t.Fatalf("want package.name error, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("missing file should error")
	}
}

func TestLoadBadTOML(t *testing.T) {
	p := writeManifest(t, "[package\nname=")
	if _, err := Load(p); err == nil {
		t.Fatal("bad TOML should error")
	}
}

func TestVersionPayload(t *testing.T) {
	m, err := Load(writeManifest(t, fullManifest))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	payload := m.VersionPayload()
	if payload.Version != "1.2.3" || payload.Description != "Adds bar support" {
		t.Fatalf("payload base: %+v", payload)
	}

	// Sorted by algorithm name, values folded to lowercase.
	if len(payload.Checksums) != 2 {
		t.Fatalf("checksums: %+v", payload.Checksums)
	}
	if payload.Checksums[0].Algorithm != model.ChecksumSHA256 {
		t.Fatalf("first checksum: %+v", payload.Checksums[0])
	}
	if payload.Checksums[0].Value != strings.ToLower(payload.Checksums[0].Value) {
		t.Fatalf("checksum not lowercased: %q", payload.Checksums[0].Value)
	}
	if payload.Checksums[1].Algorithm != model.ChecksumMD5 {
		t.Fatalf("second checksum: %+v", payload.Checksums[1])
	}

	if len(payload.Dependencies) != 2 {
		t.Fatalf("dependencies: %+v", payload.Dependencies)
	}
	if payload.Dependencies[0].Package != "libbar" || payload.Dependencies[0].Spec != ">=2.0" {
		t.Fatalf("first dependency: %+v", payload.Dependencies[0])
	}
	if payload.Dependencies[1].Package != "libbaz" {
		t.Fatalf("second dependency: %+v", payload.Dependencies[1])
	}
}

func TestPackagePayload(t *testing.T) {
	m, err := Load(writeManifest(t, fullManifest))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	payload := m.PackagePayload()
	if payload.Name != "libfoo" {
		t.Fatalf("name: %q", payload.Name)
	}
	if len(payload.Owners) != 2 || payload.Owners[0] != "alice" {
		t.Fatalf("owners: %v", payload.Owners)
	}
	if len(payload.Versions) != 1 || payload.Versions[0].Version != "1.2.3" {
		t.Fatalf("versions: %+v", payload.Versions)
	}
	if len(payload.Tags) != 0 {
		t.Fatalf("initial publish carries no tags: %+v", payload.Tags)
	}
}
