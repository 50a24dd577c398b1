package main

import (
	"context"
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/knotty-dev/knotty/internal/apierror"
	"github.com/knotty-dev/knotty/internal/manifest"
	"github.com/knotty-dev/knotty/internal/model"
	"github.com/knotty-dev/knotty/internal/schema"
)

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list [query]",
		Short: "List packages, optionally filtered",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			query := ""
			if len(args) == 1 {
				query = args[0]
			}

			packages, err := c.ListPackages(cmd.Context(), query)
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendHeader(table.Row{"Name", "Namespace", "Summary", "Labels", "Downloads"})
			for _, p := range packages {
				namespace := ""
				if p.Namespace != nil {
					namespace = *p.Namespace
				}
				t.AppendRow(table.Row{p.Name, namespace, p.Summary, strings.Join(p.Labels, ", "), p.Downloads})
			}
			t.Render()
			return nil
		},
	}
}

func newInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <package>",
		Short: "Show a package with its versions and tags",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pkg, err := newClient().GetPackage(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendRow(table.Row{"Name", pkg.Name})
			t.AppendRow(table.Row{"Summary", pkg.Summary})
			if pkg.Namespace != nil {
				t.AppendRow(table.Row{"Namespace", *pkg.Namespace})
			}
			t.AppendRow(table.Row{"Owners", strings.Join(pkg.Owners, ", ")})
			t.AppendRow(table.Row{"Labels", strings.Join(pkg.Labels, ", ")})
			t.AppendRow(table.Row{"Downloads", pkg.Downloads})
			t.Render()

			vt := table.NewWriter()
			vt.SetOutputMirror(os.Stdout)
			vt.AppendHeader(table.Row{"Version", "Published", "By", "Downloads"})
			for _, v := range pkg.Versions {
				vt.AppendRow(table.Row{v.Version, v.CreatedDate.Format("2006-01-02"), v.CreatedBy, v.Downloads})
			}
			vt.Render()

			if len(pkg.Tags) > 0 {
				tt := table.NewWriter()
				tt.SetOutputMirror(os.Stdout)
				tt.AppendHeader(table.Row{"Tag", "Version"})
				for _, tag := range pkg.Tags {
					tt.AppendRow(table.Row{tag.Name, tag.Version})
				}
				tt.Render()
			}
			return nil
		},
	}
}

// splitTarget parses pkg[:version | @tag].
func splitTarget(arg string) (pkg, version, tag string) {
	if i := strings.IndexByte(arg, ':'); i >= 0 {
		return arg[:i], arg[i+1:], ""
	}
	if i := strings.IndexByte(arg, '@'); i >= 0 {
		return arg[:i], "", arg[i+1:]
	}
	return arg, "", ""
}

// resolveVersion picks the requested version: explicit version, tag
// target, or the latest published one.
func resolveVersion(pkg *schema.Package, version, tag string) (*schema.PackageVersion, error) {
	if tag != "" {
		for _, t := range pkg.Tags {
			if strings.EqualFold(t.Name, tag) {
				version = t.Version
				break
			}
		}
		if version == "" {
			return nil, fmt.Errorf("package %s has no tag %s", pkg.Name, tag)
		}
	}

	if version == "" {
		var latest *schema.PackageVersion
		for i := range pkg.Versions {
			v := &pkg.Versions[i]
			if latest == nil {
				latest = v
				continue
			}
			parsed, err1 := schema.ParseVersion(v.Version)
			best, err2 := schema.ParseVersion(latest.Version)
			if err1 == nil && err2 == nil && parsed.GreaterThan(best) {
				latest = v
			}
		}
		if latest == nil {
			return nil, fmt.Errorf("package %s has no versions", pkg.Name)
		}
		return latest, nil
	}

	for i := range pkg.Versions {
		if strings.EqualFold(pkg.Versions[i].Version, version) {
			return &pkg.Versions[i], nil
		}
	}
	return nil, fmt.Errorf("package %s has no version %s", pkg.Name, version)
}

func newDownloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "download <package>[:version | @tag] <out>",
		Short: "Download a version's tarball and verify its checksums",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, version, tag := splitTarget(args[0])
			out := args[1]

			pkg, err := newClient().GetPackage(cmd.Context(), name)
			if err != nil {
				return err
			}
			v, err := resolveVersion(pkg, version, tag)
			if err != nil {
				return err
			}
			if v.Tarball == nil {
				return fmt.Errorf("version %s of %s has no tarball", v.Version, pkg.Name)
			}

			if err := downloadFile(cmd.Context(), *v.Tarball, out, v.Checksums); err != nil {
				return err
			}
			fmt.Printf("Downloaded %s %s to %s\n", pkg.Name, v.Version, out)
			return nil
		},
	}
}

func checksumHasher(algo model.ChecksumAlgorithm) hash.Hash {
	switch algo {
	case model.ChecksumMD5:
		return md5.New()
	case model.ChecksumSHA1:
		return sha1.New()
	case model.ChecksumSHA256:
		return sha256.New()
	case model.ChecksumSHA512:
		return sha512.New()
	}
	return nil
}

// downloadFile streams the tarball to disk, hashing as it goes, and
// fails when any published checksum mismatches.
func downloadFile(ctx context.Context, url, out string, checksums []schema.PackageChecksum) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: %s", url, resp.Status)
	}

	file, err := os.Create(out)
	if err != nil {
		return err
	}
	defer file.Close()

	hashers := map[model.ChecksumAlgorithm]hash.Hash{}
	writers := []io.Writer{file}
	for _, c := range checksums {
		if h := checksumHasher(c.Algorithm); h != nil {
			hashers[c.Algorithm] = h
			writers = append(writers, h)
		}
	}

	if _, err := io.Copy(io.MultiWriter(writers...), resp.Body); err != nil {
		return err
	}

	for _, c := range checksums {
		h, ok := hashers[c.Algorithm]
		if !ok {
			continue
		}
		got := hex.EncodeToString(h.Sum(nil))
		if got != strings.ToLower(c.Value) {
			return fmt.Errorf("%s checksum mismatch: expected %s, got %s", c.Algorithm, c.Value, got)
		}
	}
	return nil
}

func newPublishCmd() *cobra.Command {
	var manifestPath, replace string

	cmd := &cobra.Command{
		Use:   "publish <package>",
		Short: "Publish the version described by the manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newAuthedClient()
			if err != nil {
				return err
			}
			m, err := manifest.Load(manifestPath)
			if err != nil {
				return err
			}
			name := args[0]
			if !strings.EqualFold(m.Package.Name, name) {
				return fmt.Errorf("manifest describes %s, not %s", m.Package.Name, name)
			}

			if replace != "" {
				if !confirm(fmt.Sprintf("Replace version %s of %s?", replace, name)) {
					return errors.New("aborted")
				}
				if err := c.EditVersion(cmd.Context(), name, replace, m.VersionPayload()); err != nil {
					return err
				}
				fmt.Printf("Replaced %s %s\n", name, replace)
				return nil
			}

			// Create the package on first publish.
			_, err = c.GetPackage(cmd.Context(), name)
			var apiErr *apierror.Error
			if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
				if err := c.CreatePackage(cmd.Context(), m.PackagePayload()); err != nil {
					return err
				}
				fmt.Printf("Published %s %s\n", name, m.Version.Version)
				return nil
			}
			if err != nil {
				return err
			}

			err = c.CreateVersion(cmd.Context(), name, m.VersionPayload())
			if errors.As(err, &apiErr) && apiErr.Status == http.StatusConflict && apiErr.What == "Version" {
				// Replacing an existing version always needs explicit
				// confirmation.
				if !confirm(fmt.Sprintf("Version %s of %s already exists. Replace it?", m.Version.Version, name)) {
					return errors.New("aborted")
				}
				err = c.EditVersion(cmd.Context(), name, m.Version.Version, m.VersionPayload())
			}
			if err != nil {
				return err
			}
			fmt.Printf("Published %s %s\n", name, m.Version.Version)
			return nil
		},
	}
	cmd.Flags().StringVarP(&manifestPath, "manifest", "m", manifest.DefaultFile, "Path to the version manifest")
	cmd.Flags().StringVar(&replace, "replace", "", "Replace this existing version instead of creating one")
	return cmd
}

func newUnpublishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unpublish <package> <version>",
		Short: "Remove a published version",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newAuthedClient()
			if err != nil {
				return err
			}
			if !confirm(fmt.Sprintf("Remove version %s of %s?", args[1], args[0])) {
				return errors.New("aborted")
			}
			if err := c.DeleteVersion(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("Removed %s %s\n", args[0], args[1])
			return nil
		},
	}
}
