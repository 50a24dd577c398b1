package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/knotty-dev/knotty/internal/schema"
)

func newPkgCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pkg",
		Short: "Manage package metadata",
	}
	cmd.AddCommand(newPkgCreateCmd(), newPkgEditCmd(), newPkgDeleteCmd())
	return cmd
}

func newPkgCreateCmd() *cobra.Command {
	var summary, namespace string
	var labels, owners []string

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create an empty package",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newAuthedClient()
			if err != nil {
				return err
			}
			err = c.CreatePackage(cmd.Context(), schema.PackageCreate{
				Name:      args[0],
				Summary:   summary,
				Namespace: optional(namespace),
				Labels:    labels,
				Owners:    owners,
			})
			if err != nil {
				return err
			}
			fmt.Printf("Package %s created\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVarP(&summary, "summary", "s", "", "One-line summary")
	cmd.Flags().StringVarP(&namespace, "namespace", "n", "", "Namespace to create the package in")
	cmd.Flags().StringSliceVarP(&labels, "label", "l", nil, "Label (repeatable)")
	cmd.Flags().StringSliceVarP(&owners, "owner", "o", nil, "Additional owner (repeatable)")
	return cmd
}

// newPkgEditCmd sends the full metadata shape; unset flags keep the
// current server-side value by reading the package first.
func newPkgEditCmd() *cobra.Command {
	var name, summary, namespace string
	var labels, owners []string
	var detach bool

	cmd := &cobra.Command{
		Use:   "edit <package>",
		Short: "Edit package metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newAuthedClient()
			if err != nil {
				return err
			}
			current, err := c.GetPackage(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			edit := schema.PackageEdit{
				Name:      current.Name,
				Summary:   current.Summary,
				Namespace: current.Namespace,
				Labels:    current.Labels,
				Owners:    current.Owners,
			}
			if cmd.Flags().Changed("name") {
				edit.Name = name
			}
			if cmd.Flags().Changed("summary") {
				edit.Summary = summary
			}
			if cmd.Flags().Changed("namespace") {
				edit.Namespace = optional(namespace)
			}
			if detach {
				edit.Namespace = nil
			}
			if cmd.Flags().Changed("label") {
				edit.Labels = labels
			}
			if cmd.Flags().Changed("owner") {
				edit.Owners = owners
			}

			if err := c.EditPackage(cmd.Context(), args[0], edit); err != nil {
				return err
			}
			fmt.Printf("Package %s edited\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Rename the package")
	cmd.Flags().StringVarP(&summary, "summary", "s", "", "One-line summary")
	cmd.Flags().StringVarP(&namespace, "namespace", "n", "", "Move the package to this namespace")
	cmd.Flags().BoolVar(&detach, "detach", false, "Detach the package from its namespace")
	cmd.Flags().StringSliceVarP(&labels, "label", "l", nil, "Replace labels (repeatable)")
	cmd.Flags().StringSliceVarP(&owners, "owner", "o", nil, "Replace owners (repeatable)")
	return cmd
}

func newPkgDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <package>",
		Short: "Delete a package and everything under it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newAuthedClient()
			if err != nil {
				return err
			}
			if !confirm(fmt.Sprintf("Delete package %s with all versions and tags?", args[0])) {
				return errors.New("aborted")
			}
			if err := c.DeletePackage(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Package %s deleted\n", args[0])
			return nil
		},
	}
}
