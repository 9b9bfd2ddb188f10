package main

import (
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the PostgreSQL schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		pool, err := openPool(cmd.Context(), true)
		if err != nil {
			return err
		}
		pool.Close()
		return nil
	},
}
