package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/drivercheck/drivercheck-bot/internal/taxonomy"
)

func taxonomyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "taxonomy",
		Short: "List incident categories and their tags",
		RunE: func(cmd *cobra.Command, _ []string) error {
			index, err := loadTaxonomy()
			if err != nil {
				return err
			}
			return printTaxonomy(cmd.OutOrStdout(), index)
		},
	}
}

func printTaxonomy(out io.Writer, index *taxonomy.Index) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)

	fmt.Fprintf(w, "%s\t%s\n", titleStyle.Render("Category"), titleStyle.Render("Tags"))
	fmt.Fprintf(w, "%s\t%s\n", strings.Repeat("-", 24), strings.Repeat("-", 40))

	for _, c := range index.Categories() {
		tags := strings.Join(c.AllowedTags, ", ")
		if tags == "" {
			tags = mutedStyle.Render("(none)")
		}
		id := c.ID
		if c.ID == index.Fallback() {
			id += " " + mutedStyle.Render("(fallback)")
		}
		fmt.Fprintf(w, "%s\t%s\n", id, tags)
	}
	return w.Flush()
}
