package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/cgast/jobproto/pkg/spec"
)

func newSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the structural schema of a job protocol document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(spec.SchemaDescription())
		},
	}
}
