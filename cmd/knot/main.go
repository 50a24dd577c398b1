package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/knotty-dev/knotty/internal/apierror"
	"github.com/knotty-dev/knotty/internal/client"
	"github.com/knotty-dev/knotty/internal/session"
)

const defaultRegistry = "http://localhost:8080"

var (
	flagRegistry string
	flagYes      bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "knot",
		Short:         "Client for the knotty package registry",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&flagRegistry, "registry", "", "Registry base URL (overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&flagYes, "yes", "y", false, "Assume yes on confirmation prompts")

	rootCmd.AddCommand(
		newLoginCmd(), newLogoutCmd(), newRegisterCmd(), newAccountCmd(),
		newListCmd(), newInfoCmd(), newDownloadCmd(), newPublishCmd(), newUnpublishCmd(),
		newPkgCmd(), newTagCmd(), newNamespaceCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		printError(err)
		os.Exit(1)
	}
}

// printError renders the failure in red; validation details keep one
// message per line, structured fields are appended.
func printError(err error) {
	var apiErr *apierror.Error
	if errors.As(err, &apiErr) {
		msg := apiErr.Detail
		if len(apiErr.Packages) > 0 {
			msg += "\n  packages: " + strings.Join(apiErr.Packages, ", ")
		}
		if len(apiErr.Usernames) > 0 {
			msg += "\n  usernames: " + strings.Join(apiErr.Usernames, ", ")
		}
		fmt.Fprintln(os.Stderr, text.FgRed.Sprint(msg))
		return
	}
	fmt.Fprintln(os.Stderr, text.FgRed.Sprint(err.Error()))
}

// registryURL resolves the server URL: flag, then KNOT_REGISTRY, then
// the knot.toml config in the user config dir, then the default.
func registryURL() string {
	if flagRegistry != "" {
		return flagRegistry
	}
	if env := os.Getenv("KNOT_REGISTRY"); env != "" {
		return env
	}

	v := viper.New()
	v.SetConfigName("knot")
	v.SetConfigType("toml")
	if dir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(dir, "knot"))
	}
	v.SetDefault("registry", defaultRegistry)
	_ = v.ReadInConfig()
	return v.GetString("registry")
}

// newClient builds an anonymous client.
func newClient() *client.Client {
	return client.New(registryURL(), "")
}

// newAuthedClient requires a saved session.
func newAuthedClient() (*client.Client, *session.Session, error) {
	s, err := session.Load()
	if err != nil {
		return nil, nil, err
	}
	if s == nil {
		return nil, nil, errors.New("not logged in, run: knot login")
	}

	base := registryURL()
	if flagRegistry == "" && s.Registry != "" {
		base = s.Registry
	}
	return client.New(base, s.Token), s, nil
}

// confirm prompts unless --yes was given.
func confirm(prompt string) bool {
	if flagYes {
		return true
	}
	fmt.Printf("%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
