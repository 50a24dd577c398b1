package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/knotty-dev/knotty/internal/model"
	"github.com/knotty-dev/knotty/internal/schema"
)

func newNamespaceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "namespace",
		Aliases: []string{"ns"},
		Short:   "Manage namespaces, members and roles",
	}
	cmd.AddCommand(
		newNamespaceInfoCmd(), newNamespaceCreateCmd(), newNamespaceEditCmd(), newNamespaceDeleteCmd(),
		newNamespaceUserCmd(), newNamespaceRoleCmd(),
	)
	return cmd
}

func newNamespaceInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <namespace>",
		Short: "Show a namespace with members, roles and packages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			ns, err := c.GetNamespace(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.AppendRow(table.Row{"Name", ns.Name})
			t.AppendRow(table.Row{"Description", ns.Description})
			if ns.Homepage != nil {
				t.AppendRow(table.Row{"Homepage", *ns.Homepage})
			}
			t.AppendRow(table.Row{"Created", ns.CreatedDate.Format("2006-01-02")})
			t.Render()

			ut := table.NewWriter()
			ut.SetOutputMirror(os.Stdout)
			ut.AppendHeader(table.Row{"Member", "Role", "Added by"})
			for _, u := range ns.Users {
				ut.AppendRow(table.Row{u.Username, u.Role, u.AddedBy})
			}
			ut.Render()

			rt := table.NewWriter()
			rt.SetOutputMirror(os.Stdout)
			rt.AppendHeader(table.Row{"Role", "Permissions"})
			for _, role := range ns.Roles {
				perms := make([]string, 0, len(role.Permissions))
				for _, p := range role.Permissions {
					perms = append(perms, string(p))
				}
				rt.AppendRow(table.Row{role.Name, strings.Join(perms, ", ")})
			}
			rt.Render()

			packages, err := c.NamespacePackages(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if len(packages) > 0 {
				pt := table.NewWriter()
				pt.SetOutputMirror(os.Stdout)
				pt.AppendHeader(table.Row{"Package", "Summary"})
				for _, p := range packages {
					pt.AppendRow(table.Row{p.Name, p.Summary})
				}
				pt.Render()
			}
			return nil
		},
	}
}

func newNamespaceCreateCmd() *cobra.Command {
	var description, homepage string

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a namespace owned by you",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newAuthedClient()
			if err != nil {
				return err
			}
			err = c.CreateNamespace(cmd.Context(), schema.NamespaceCreate{
				Name:        args[0],
				Description: description,
				Homepage:    optional(homepage),
			})
			if err != nil {
				return err
			}
			fmt.Printf("Namespace %s created\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVarP(&description, "description", "d", "", "Description")
	cmd.Flags().StringVar(&homepage, "homepage", "", "Homepage URL")
	return cmd
}

func newNamespaceEditCmd() *cobra.Command {
	var name, description, homepage string

	cmd := &cobra.Command{
		Use:   "edit <namespace>",
		Short: "Edit namespace metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newAuthedClient()
			if err != nil {
				return err
			}
			current, err := c.GetNamespace(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			edit := schema.NamespaceEdit{
				Name:        current.Name,
				Description: current.Description,
				Homepage:    current.Homepage,
			}
			if cmd.Flags().Changed("name") {
				edit.Name = name
			}
			if cmd.Flags().Changed("description") {
				edit.Description = description
			}
			if cmd.Flags().Changed("homepage") {
				edit.Homepage = optional(homepage)
			}

			if err := c.EditNamespace(cmd.Context(), args[0], edit); err != nil {
				return err
			}
			fmt.Printf("Namespace %s edited\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Rename the namespace")
	cmd.Flags().StringVarP(&description, "description", "d", "", "Description")
	cmd.Flags().StringVar(&homepage, "homepage", "", "Homepage URL")
	return cmd
}

func newNamespaceDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <namespace>",
		Short: "Delete a namespace (packages are detached, not deleted)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newAuthedClient()
			if err != nil {
				return err
			}
			if !confirm(fmt.Sprintf("Delete namespace %s?", args[0])) {
				return errors.New("aborted")
			}
			if err := c.DeleteNamespace(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Namespace %s deleted\n", args[0])
			return nil
		},
	}
}

func newNamespaceUserCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage namespace members",
	}

	add := &cobra.Command{
		Use:   "add <namespace> <username> <role>",
		Short: "Add a member with a role",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newAuthedClient()
			if err != nil {
				return err
			}
			err = c.AddNamespaceUser(cmd.Context(), args[0], schema.NamespaceUserCreate{
				Username: args[1],
				Role:     args[2],
			})
			if err != nil {
				return err
			}
			fmt.Printf("Added %s to %s as %s\n", args[1], args[0], args[2])
			return nil
		},
	}

	edit := &cobra.Command{
		Use:   "edit <namespace> <username> <role>",
		Short: "Move a member to another role",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newAuthedClient()
			if err != nil {
				return err
			}
			err = c.EditNamespaceUser(cmd.Context(), args[0], args[1], schema.NamespaceUserEdit{Role: args[2]})
			if err != nil {
				return err
			}
			fmt.Printf("Moved %s to role %s in %s\n", args[1], args[2], args[0])
			return nil
		},
	}

	remove := &cobra.Command{
		Use:   "delete <namespace> <username>",
		Short: "Remove a member",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newAuthedClient()
			if err != nil {
				return err
			}
			if err := c.RemoveNamespaceUser(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("Removed %s from %s\n", args[1], args[0])
			return nil
		},
	}

	cmd.AddCommand(add, edit, remove)
	return cmd
}

func newNamespaceRoleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "role",
		Short: "Manage namespace roles",
	}

	var createPerms []string
	create := &cobra.Command{
		Use:   "create <namespace> <role>",
		Short: "Create a role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newAuthedClient()
			if err != nil {
				return err
			}
			err = c.CreateNamespaceRole(cmd.Context(), args[0], schema.NamespaceRoleCreate{
				Name:        args[1],
				Permissions: toPermissionCodes(createPerms),
			})
			if err != nil {
				return err
			}
			fmt.Printf("Role %s created in %s\n", args[1], args[0])
			return nil
		},
	}
	create.Flags().StringSliceVarP(&createPerms, "permission", "P", nil, "Permission code (repeatable)")

	var editName string
	var editPerms []string
	edit := &cobra.Command{
		Use:   "edit <namespace> <role>",
		Short: "Rename a role or replace its permissions",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newAuthedClient()
			if err != nil {
				return err
			}
			roles, err := c.ListNamespaceRoles(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			var current *schema.NamespaceRole
			for i := range roles {
				if strings.EqualFold(roles[i].Name, args[1]) {
					current = &roles[i]
					break
				}
			}
			if current == nil {
				return fmt.Errorf("namespace %s has no role %s", args[0], args[1])
			}

			data := schema.NamespaceRoleEdit{
				Name:        current.Name,
				Permissions: current.Permissions,
			}
			if cmd.Flags().Changed("name") {
				data.Name = editName
			}
			if cmd.Flags().Changed("permission") {
				data.Permissions = toPermissionCodes(editPerms)
			}

			if err := c.EditNamespaceRole(cmd.Context(), args[0], args[1], data); err != nil {
				return err
			}
			fmt.Printf("Role %s edited in %s\n", args[1], args[0])
			return nil
		},
	}
	edit.Flags().StringVar(&editName, "name", "", "Rename the role")
	edit.Flags().StringSliceVarP(&editPerms, "permission", "P", nil, "Replace permissions (repeatable)")

	del := &cobra.Command{
		Use:   "delete <namespace> <role>",
		Short: "Delete an empty role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newAuthedClient()
			if err != nil {
				return err
			}
			if err := c.DeleteNamespaceRole(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("Role %s removed from %s\n", args[1], args[0])
			return nil
		},
	}

	cmd.AddCommand(create, edit, del)
	return cmd
}

func toPermissionCodes(values []string) []model.PermissionCode {
	codes := make([]model.PermissionCode, 0, len(values))
	for _, v := range values {
		codes = append(codes, model.PermissionCode(v))
	}
	return codes
}
