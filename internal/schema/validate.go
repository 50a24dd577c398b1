package schema

import (
	"fmt"
	"net/mail"
	"net/url"
	"regexp"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/knotty-dev/knotty/internal/apierror"
	"github.com/knotty-dev/knotty/internal/model"
)

const (
	maxNameLen        = 32
	maxEmailLen       = 64
	maxPasswordLen    = 1024
	maxSummaryLen     = 256
	maxDescriptionLen = 131072
	maxURLLen         = 2048
	maxDepSpecLen     = 40
)

var (
	usernameRe = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9-]*$`)
	packageRe  = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)
	hexRe      = regexp.MustCompile(`^[0-9a-f]+$`)
)

// Namespace names, role names and usernames share one charset; package
// names, labels and tags share the lowercase one.
func validName(s string) bool {
	return len(s) >= 1 && len(s) <= maxNameLen && usernameRe.MatchString(s)
}

func validLowerName(s string) bool {
	return len(s) >= 1 && len(s) <= maxNameLen && packageRe.MatchString(s)
}

// ParseVersion parses a strict semver string (major.minor.patch with
// optional prerelease and build metadata).
func ParseVersion(s string) (*semver.Version, error) {
	return semver.StrictNewVersion(s)
}

func validHTTPURL(s string) bool {
	if len(s) > maxURLLen {
		return false
	}
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func validURL(s string) bool {
	if len(s) > maxURLLen {
		return false
	}
	u, err := url.Parse(s)
	return err == nil && u.Scheme != ""
}

// problems accumulates field-level messages; Err converts them into a
// single validation error with one message per line.
type problems []string

func (p *problems) addf(format string, args ...any) {
	*p = append(*p, fmt.Sprintf(format, args...))
}

func (p problems) Err() error {
	if len(p) == 0 {
		return nil
	}
	return apierror.Validation(p...)
}

func (r UserRegister) Validate() error {
	var p problems
	if !validName(r.Username) {
		p.addf("username: must match ^[A-Za-z][A-Za-z0-9-]*$ and be 1-32 characters")
	}
	if _, err := mail.ParseAddress(r.Email); err != nil {
		p.addf("email: not a valid email address")
	}
	if len(r.Email) > maxEmailLen {
		p.addf("email: value is too long (max %d)", maxEmailLen)
	}
	if len(r.Password) > maxPasswordLen {
		p.addf("password: value is too long (max %d)", maxPasswordLen)
	}
	return p.Err()
}

func (n NamespaceCreate) Validate() error {
	var p problems
	if !validName(n.Name) {
		p.addf("name: must match ^[A-Za-z][A-Za-z0-9-]*$ and be 1-32 characters")
	}
	if len(n.Description) > maxDescriptionLen {
		p.addf("description: value is too long (max %d)", maxDescriptionLen)
	}
	if n.Homepage != nil && !validHTTPURL(*n.Homepage) {
		p.addf("homepage: must be an HTTP URL of at most %d characters", maxURLLen)
	}
	return p.Err()
}

func (u NamespaceUserCreate) Validate() error {
	var p problems
	if !validName(u.Username) {
		p.addf("username: must match ^[A-Za-z][A-Za-z0-9-]*$ and be 1-32 characters")
	}
	if u.Role == "" {
		p.addf("role: must not be empty")
	}
	return p.Err()
}

func (u NamespaceUserEdit) Validate() error {
	var p problems
	if u.Role == "" {
		p.addf("role: must not be empty")
	}
	return p.Err()
}

func (r NamespaceRoleCreate) Validate() error {
	var p problems
	if !validName(r.Name) {
		p.addf("name: must match ^[A-Za-z][A-Za-z0-9-]*$ and be 1-32 characters")
	}
	seen := map[model.PermissionCode]struct{}{}
	for _, code := range r.Permissions {
		if !code.Valid() {
			p.addf("permissions: unknown permission %q", code)
			continue
		}
		if _, dup := seen[code]; dup {
			p.addf("permissions: %s is specified multiple times", code)
		}
		seen[code] = struct{}{}
	}
	return p.Err()
}

func (c PackageChecksum) validate(p *problems) {
	if !c.Algorithm.Valid() {
		p.addf("checksums: unknown algorithm %q", c.Algorithm)
		return
	}
	value := strings.ToLower(c.Value)
	if !hexRe.MatchString(value) {
		p.addf("checksums: %s value is not lowercase hex", c.Algorithm)
		return
	}
	if len(value) != c.Algorithm.Length()*2 {
		p.addf("checksums: %s invalid length: expected %d bytes", c.Algorithm, c.Algorithm.Length())
	}
}

func (v PackageVersionBase) validate(p *problems) {
	if _, err := ParseVersion(v.Version); err != nil {
		p.addf("version: %q is not a valid semver version", v.Version)
	}
	if len(v.Description) > maxDescriptionLen {
		p.addf("description: value is too long (max %d)", maxDescriptionLen)
	}
	if v.Repository != nil && !validURL(*v.Repository) {
		p.addf("repository: must be a URL of at most %d characters", maxURLLen)
	}
	if v.Tarball != nil && !validURL(*v.Tarball) {
		p.addf("tarball: must be a URL of at most %d characters", maxURLLen)
	}

	algos := map[model.ChecksumAlgorithm]struct{}{}
	for _, checksum := range v.Checksums {
		checksum.validate(p)
		if _, dup := algos[checksum.Algorithm]; dup {
			p.addf("checksums: algorithm %s is specified multiple times", checksum.Algorithm)
		}
		algos[checksum.Algorithm] = struct{}{}
	}

	deps := map[string]struct{}{}
	for _, dep := range v.Dependencies {
		if !validLowerName(dep.Package) {
			p.addf("dependencies: %q is not a valid package name", dep.Package)
		}
		if len(dep.Spec) < 1 || len(dep.Spec) > maxDepSpecLen {
			p.addf("dependencies: %s spec must be 1-%d characters", dep.Package, maxDepSpecLen)
		}
		if _, dup := deps[dep.Package]; dup {
			p.addf("dependencies: %s is specified multiple times", dep.Package)
		}
		deps[dep.Package] = struct{}{}
	}
}

// Validate checks a standalone version payload (create or edit).
func (v PackageVersionBase) Validate() error {
	var p problems
	v.validate(&p)
	return p.Err()
}

func (t PackageTag) validate(p *problems) {
	if !validLowerName(t.Name) {
		p.addf("tags: %q is not a valid tag name", t.Name)
	}
}

// Validate checks a standalone tag payload against no particular
// version set; version existence is the storage layer's concern.
func (t PackageTag) Validate() error {
	var p problems
	t.validate(&p)
	return p.Err()
}

func validatePackageMeta(p *problems, name, summary string, namespace *string, labels, owners []string) {
	if !validLowerName(name) {
		p.addf("name: must match ^[a-z][a-z0-9-]*$ and be 1-32 characters")
	}
	if len(summary) > maxSummaryLen {
		p.addf("summary: value is too long (max %d)", maxSummaryLen)
	}
	if namespace != nil && !validName(*namespace) {
		p.addf("namespace: %q is not a valid namespace name", *namespace)
	}
	seenLabels := map[string]struct{}{}
	for _, label := range labels {
		if !validLowerName(label) {
			p.addf("labels: %q is not a valid label", label)
		}
		if _, dup := seenLabels[label]; dup {
			p.addf("labels: %q is specified multiple times", label)
		}
		seenLabels[label] = struct{}{}
	}
	seenOwners := map[string]struct{}{}
	for _, owner := range owners {
		if !validName(owner) {
			p.addf("owners: %q is not a valid username", owner)
		}
		if _, dup := seenOwners[owner]; dup {
			p.addf("owners: %q is specified multiple times", owner)
		}
		seenOwners[owner] = struct{}{}
	}
}

func (c PackageCreate) Validate() error {
	var p problems
	validatePackageMeta(&p, c.Name, c.Summary, c.Namespace, c.Labels, c.Owners)

	versions := map[string]struct{}{}
	for _, version := range c.Versions {
		version.validate(&p)
		parsed, err := ParseVersion(version.Version)
		if err != nil {
			continue
		}
		key := parsed.String()
		if _, dup := versions[key]; dup {
			p.addf("versions: version %s is specified multiple times", version.Version)
		}
		versions[key] = struct{}{}
	}

	tags := map[string]struct{}{}
	for _, tag := range c.Tags {
		tag.validate(&p)
		if _, dup := tags[tag.Name]; dup {
			p.addf("tags: tag %s is specified multiple times", tag.Name)
		}
		tags[tag.Name] = struct{}{}

		found := false
		for _, version := range c.Versions {
			if SameVersion(tag.Version, version.Version) {
				found = true
				break
			}
		}
		if !found {
			p.addf("tags: tag %s does not refer to valid version", tag.Name)
		}
	}
	return p.Err()
}

func (e PackageEdit) Validate() error {
	var p problems
	validatePackageMeta(&p, e.Name, e.Summary, e.Namespace, e.Labels, e.Owners)
	return p.Err()
}

// SameVersion compares two version strings in parsed form, falling
// back to string equality when either fails to parse. Prerelease and
// build metadata compare exactly, so 1.0.0-RC and 1.0.0-rc are
// distinct versions.
func SameVersion(a, b string) bool {
	if a == b {
		return true
	}
	va, errA := ParseVersion(a)
	vb, errB := ParseVersion(b)
	if errA != nil || errB != nil {
		return false
	}
	return va.Equal(vb) && va.Metadata() == vb.Metadata()
}
