package cmd

import (
	"github.com/fbz-tec/pg2parquet/core/typemap"
	"github.com/spf13/cobra"
)

var typesCmd = &cobra.Command{
	Use:   "types",
	Short: "Print the PostgreSQL OID -> Arrow type table in effect",
	Long: `Print the type table used to map result columns, in the format accepted
by --type-map. Columns whose type is not listed are exported as utf8 text.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		table, err := loadTypeTable()
		if err != nil {
			return err
		}
		return typemap.WriteTable(cmd.OutOrStdout(), table)
	},
}
