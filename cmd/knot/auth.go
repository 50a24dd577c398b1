package main

import (
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/knotty-dev/knotty/internal/schema"
	"github.com/knotty-dev/knotty/internal/session"
)

// promptPassword reads without echo when stdin is a terminal.
func promptPassword(prompt string) (string, error) {
	fmt.Print(prompt)
	if term.IsTerminal(int(syscall.Stdin)) {
		raw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}

	var line string
	if _, err := fmt.Fscanln(os.Stdin, &line); err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func newLoginCmd() *cobra.Command {
	var username, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in and store the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if username == "" {
				fmt.Print("Username: ")
				if _, err := fmt.Fscanln(os.Stdin, &username); err != nil {
					return err
				}
			}
			if password == "" {
				var err error
				if password, err = promptPassword("Password: "); err != nil {
					return err
				}
			}

			token, err := newClient().Login(cmd.Context(), username, password)
			if err != nil {
				return err
			}
			if err := session.Save(&session.Session{
				Registry: registryURL(),
				Username: username,
				Token:    token.AccessToken,
			}); err != nil {
				return err
			}
			fmt.Printf("Logged in as %s\n", username)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "Username")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password (prompted when omitted)")
	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := session.Clear(); err != nil {
				return err
			}
			fmt.Println("Logged out")
			return nil
		},
	}
}

func newRegisterCmd() *cobra.Command {
	var username, email, password string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				var err error
				if password, err = promptPassword("Password: "); err != nil {
					return err
				}
			}
			err := newClient().Register(cmd.Context(), schema.UserRegister{
				Username: username,
				Email:    email,
				Password: password,
			})
			if err != nil {
				return err
			}
			fmt.Printf("Account %s created\n", username)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "username", "u", "", "Username")
	cmd.Flags().StringVarP(&email, "email", "e", "", "Email address")
	cmd.Flags().StringVarP(&password, "password", "p", "", "Password (prompted when omitted)")
	_ = cmd.MarkFlagRequired("username")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

func newAccountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "account [username]",
		Short: "Show account details (defaults to the logged-in user)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, s, err := newAuthedClient()
			if err != nil {
				return err
			}
			username := s.Username
			if len(args) == 1 {
				username = args[0]
			}

			info, err := c.GetUser(cmd.Context(), username)
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendRow(table.Row{"Username", info.Username})
			t.AppendRow(table.Row{"Email", info.Email})
			t.AppendRow(table.Row{"Registered", info.Registered.Format("2006-01-02 15:04")})
			t.AppendRow(table.Row{"Namespaces", strings.Join(info.Namespaces, ", ")})
			if info.Role != "" {
				t.AppendRow(table.Row{"Role", string(info.Role)})
			}
			t.Render()
			return nil
		},
	}
}
