package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/knotty-dev/knotty/internal/schema"
)

func newTagCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tag",
		Short: "Manage package tags",
	}
	cmd.AddCommand(newTagCreateCmd(), newTagEditCmd(), newTagDeleteCmd())
	return cmd
}

func newTagCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <package> <tag> <version>",
		Short: "Point a new tag at a version",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newAuthedClient()
			if err != nil {
				return err
			}
			err = c.CreateTag(cmd.Context(), args[0], schema.PackageTag{
				Name:    args[1],
				Version: args[2],
			})
			if err != nil {
				return err
			}
			fmt.Printf("Tag %s -> %s created on %s\n", args[1], args[2], args[0])
			return nil
		},
	}
}

func newTagEditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "edit <package> <tag> <version>",
		Short: "Repoint a tag at another version",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newAuthedClient()
			if err != nil {
				return err
			}
			if err := c.EditTag(cmd.Context(), args[0], args[1], args[2]); err != nil {
				return err
			}
			fmt.Printf("Tag %s -> %s on %s\n", args[1], args[2], args[0])
			return nil
		},
	}
}

func newTagDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <package> <tag>",
		Short: "Remove a tag",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := newAuthedClient()
			if err != nil {
				return err
			}
			if err := c.DeleteTag(cmd.Context(), args[0], args[1]); err != nil {
				return err
			}
			fmt.Printf("Tag %s removed from %s\n", args[1], args[0])
			return nil
		},
	}
}
