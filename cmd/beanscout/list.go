package main

import (
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"beanscout/config"
	"beanscout/roasters"
)

var listCmd = &cobra.Command{
	Use:   "list-scrapers",
	Short: "List the registered roaster scrapers",
	Run: func(cmd *cobra.Command, args []string) {
		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Key", "Roaster", "Extraction", "AI Mode", "Render JS", "Store URLs"})

		for _, r := range roasters.All() {
			mode := r.Base.AIMode
			if r.Base.Extraction != config.ExtractionAI {
				mode = "-"
			}
			t.AppendRow(table.Row{
				r.Key,
				r.Name,
				r.Base.Extraction,
				mode,
				r.Base.RenderJS,
				strings.Join(r.Base.StoreURLs, "\n"),
			})
		}

		t.SetStyle(table.StyleRounded)
		t.Render()
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
}
