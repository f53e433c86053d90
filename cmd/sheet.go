package main

import (
	"fmt"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/leadfunnel/internal/leadlog"
)

var sheetCmd = &cobra.Command{
	Use:   "sheet",
	Short: "Inspect the Google Sheets lead log",
}

var sheetLookupCmd = &cobra.Command{
	Use:   "lookup",
	Short: "Print the lead row for an email address",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("sheet"); err != nil {
			return err
		}
		email, _ := cmd.Flags().GetString("email")

		client, err := initSheets(cmd.Context())
		if err != nil {
			return err
		}
		log := leadlog.New(client, cfg.Sheets.SheetName)

		row, n, err := log.Lookup(cmd.Context(), email)
		if err != nil {
			return eris.Wrap(err, "sheet lookup")
		}
		return printRow(cmd.OutOrStdout(), n, row)
	},
}

// printRow writes one lead row as YAML, columns in sheet order.
func printRow(w io.Writer, n int, row map[string]string) error {
	doc := yaml.Node{Kind: yaml.MappingNode}
	doc.Content = append(doc.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Value: "row"},
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: fmt.Sprint(n)},
	)
	for _, h := range leadlog.Headers() {
		doc.Content = append(doc.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Value: h},
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: row[h]},
		)
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return eris.Wrap(err, "sheet: encode row")
	}
	return enc.Close()
}

func init() {
	sheetLookupCmd.Flags().String("email", "", "lead email address")
	_ = sheetLookupCmd.MarkFlagRequired("email")

	sheetCmd.AddCommand(sheetLookupCmd)
	rootCmd.AddCommand(sheetCmd)
}
