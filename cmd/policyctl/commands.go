package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/brunobiangulo/policygraph"
	"github.com/brunobiangulo/policygraph/clause"
	"github.com/brunobiangulo/policygraph/eval"
	"github.com/brunobiangulo/policygraph/parser"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ---------------------------------------------------------------------------
// parse
// ---------------------------------------------------------------------------

func newParseCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "parse <file|->",
		Short: "Print the clause structure of a document without storing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readDocument(cmd, args[0])
			if err != nil {
				return err
			}
			doc := clause.Parse(text)
			if err := doc.Validate(); err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), treeOf(doc))
			}
			writeTree(cmd.OutOrStdout(), doc)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print machine-readable structure")
	return cmd
}

// readDocument extracts the text of a file, or reads stdin for "-".
func readDocument(cmd *cobra.Command, path string) (string, error) {
	if path == "-" {
		b, err := io.ReadAll(cmd.InOrStdin())
		return string(b), err
	}
	doc, err := parser.Extract(cmd.Context(), path)
	if err != nil {
		return "", err
	}
	return doc.Text(), nil
}

type itemView struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

type paragraphView struct {
	ID        string     `json:"id"`
	Text      string     `json:"text"`
	Synthetic bool       `json:"synthetic,omitempty"`
	Items     []itemView `json:"items,omitempty"`
}

type articleView struct {
	clause.Article
	Paragraphs []paragraphView `json:"paragraphs"`
}

type treeView struct {
	Articles   []articleView `json:"articles"`
	References []string      `json:"references"`
	Unresolved int           `json:"unresolved"`
}

func treeOf(doc *clause.Document) treeView {
	t := treeView{Articles: []articleView{}, References: []string{}, Unresolved: doc.Unresolved}
	for _, a := range doc.Articles {
		av := articleView{Article: a}
		for _, pi := range a.Paragraphs {
			p := doc.Paragraphs[pi]
			pv := paragraphView{ID: p.ID, Text: p.Text, Synthetic: p.Synthetic}
			for _, ii := range p.Items {
				it := doc.Items[ii]
				pv.Items = append(pv.Items, itemView{ID: it.ID, Text: it.Text})
			}
			av.Paragraphs = append(av.Paragraphs, pv)
		}
		t.Articles = append(t.Articles, av)
	}
	for _, r := range doc.References {
		t.References = append(t.References, doc.Ref(r.Source).ID+" -> "+doc.Ref(r.Target).ID)
	}
	return t
}

func writeTree(w io.Writer, doc *clause.Document) {
	for _, a := range doc.Articles {
		fmt.Fprintf(w, "%s %s", a.ID, a.Title)
		if a.Hint != clause.HintNone {
			fmt.Fprintf(w, " [%s]", a.Hint)
		}
		if a.Section != "" {
			fmt.Fprintf(w, " <%s>", a.Section)
		}
		fmt.Fprintln(w)
		for _, pi := range a.Paragraphs {
			p := doc.Paragraphs[pi]
			marker := ""
			if p.Synthetic {
				marker = " (synthetic)"
			}
			fmt.Fprintf(w, "  %s%s\n", p.ID, marker)
			for _, ii := range p.Items {
				fmt.Fprintf(w, "    %s\n", doc.Items[ii].ID)
			}
		}
	}
	for _, r := range doc.References {
		fmt.Fprintf(w, "%s -> %s\n", doc.Ref(r.Source).ID, doc.Ref(r.Target).ID)
	}
	fmt.Fprintf(w, "articles=%d paragraphs=%d items=%d references=%d unresolved=%d\n",
		len(doc.Articles), len(doc.Paragraphs), len(doc.Items), len(doc.References), doc.Unresolved)
}

// ---------------------------------------------------------------------------
// ingest
// ---------------------------------------------------------------------------

func newIngestCmd(g *globals) *cobra.Command {
	var (
		versionID   string
		productCode string
		productName string
		force       bool
	)
	cmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Parse, embed and store policy documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if versionID != "" && len(args) > 1 {
				return errors.New("--version applies to a single file")
			}
			e, err := g.openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			var opts []policygraph.IngestOption
			if versionID != "" {
				opts = append(opts, policygraph.WithVersionID(versionID))
			}
			if productCode != "" || productName != "" {
				opts = append(opts, policygraph.WithProduct(productCode, productName))
			}
			if force {
				opts = append(opts, policygraph.WithForce())
			}

			results, err := e.IngestBatch(cmd.Context(), args, opts...)
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SOURCE\tVERSION\tARTICLES\tNODES\tREFERENCES\tFAILED\tSTATUS")
			for _, r := range results {
				status := "ingested"
				switch {
				case r.Error != "":
					status = "error: " + r.Error
				case r.Skipped:
					status = "unchanged"
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\t%s\n", r.Source, r.VersionID,
					r.Stats.Articles, r.Stats.Nodes, r.Stats.References, r.Stats.Failed, status)
			}
			tw.Flush()
			return err
		},
	}
	cmd.Flags().StringVar(&versionID, "version", "", "Version id to ingest into")
	cmd.Flags().StringVar(&productCode, "product-code", "", "Insurance product code")
	cmd.Flags().StringVar(&productName, "product-name", "", "Insurance product name")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Re-ingest even if unchanged")
	return cmd
}

// ---------------------------------------------------------------------------
// query
// ---------------------------------------------------------------------------

func newQueryCmd(g *globals) *cobra.Command {
	var (
		versionID   string
		topK        int
		contextOnly bool
		asJSON      bool
	)
	cmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Find the article answering a question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := g.openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			question := strings.Join(args, " ")
			opts := []policygraph.QueryOption{policygraph.WithTopK(topK)}
			if versionID != "" {
				opts = append(opts, policygraph.WithVersion(versionID))
			}
			if contextOnly {
				opts = append(opts, policygraph.WithAnswer(false))
			}

			res, err := e.Query(cmd.Context(), question, opts...)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), res)
			}
			writeResult(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().StringVar(&versionID, "version", "", "Restrict to one version id")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "Nodes kept by the locator (default from config)")
	cmd.Flags().BoolVar(&contextOnly, "context-only", false, "Print the assembled context without generating an answer")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full result as JSON")
	return cmd
}

func writeResult(w io.Writer, res *policygraph.Result) {
	if !res.Found {
		fmt.Fprintf(w, "not found: %s\n", res.Reason)
		return
	}
	a := res.Article
	fmt.Fprintf(w, "%s %s (version %s)\n", a.Ref.ID, a.Title, a.VersionID)
	if res.Selection != nil {
		if res.Selection.Fallback {
			fmt.Fprintln(w, "selection: first candidate (fallback)")
		} else if res.Selection.Rationale != "" {
			fmt.Fprintf(w, "selection: %s\n", res.Selection.Rationale)
		}
	}
	if res.Answer != nil {
		fmt.Fprintf(w, "\n%s\n\nconfidence: %.2f\n", res.Answer.Text, res.Answer.Confidence)
		for _, c := range res.Answer.Citations {
			mark := "?"
			if c.Verified {
				mark = "✓"
			}
			fmt.Fprintf(w, "  [%s] %s\n", mark, c.ClauseID)
		}
		return
	}
	fmt.Fprintf(w, "\n%s", res.Context.Text)
}

// ---------------------------------------------------------------------------
// versions, update, stats
// ---------------------------------------------------------------------------

func newVersionsCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "versions",
		Short: "List ingested versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := g.openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			versions, err := e.Versions(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tPRODUCT\tSTATUS\tSOURCE\tUPDATED")
			for _, v := range versions {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", v.ID, v.ProductCode, v.Status, v.SourcePath, v.UpdatedAt)
			}
			return tw.Flush()
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a version and all its clauses",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := g.openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.DeleteVersion(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	})
	return cmd
}

func newUpdateCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "update [version-id]",
		Short: "Re-ingest versions whose source file changed",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := g.openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			out := cmd.OutOrStdout()
			if len(args) == 1 {
				changed, err := e.Update(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s changed=%t\n", args[0], changed)
				return nil
			}

			results, err := e.UpdateAll(cmd.Context())
			if err != nil {
				return err
			}
			for _, r := range results {
				line := fmt.Sprintf("%s %s changed=%t", r.VersionID, r.Path, r.Changed)
				if r.Error != "" {
					line += " error=" + r.Error
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
}

func newStatsCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print graph counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := g.openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			stats, err := e.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), stats)
		},
	}
}

// ---------------------------------------------------------------------------
// eval
// ---------------------------------------------------------------------------

func newEvalCmd(g *globals) *cobra.Command {
	var (
		versionID   string
		contextOnly bool
		asJSON      bool
	)
	cmd := &cobra.Command{
		Use:   "eval <dataset>",
		Short: "Measure article selection against a labelled question set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := eval.LoadDataset(args[0])
			if err != nil {
				return err
			}
			if versionID != "" {
				ds.VersionID = versionID
			}

			e, err := g.openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			var opts []policygraph.QueryOption
			if contextOnly {
				opts = append(opts, policygraph.WithAnswer(false))
			}
			report, err := eval.NewEvaluator(e).Run(cmd.Context(), ds, opts...)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), report)
			}
			fmt.Fprint(cmd.OutOrStdout(), eval.FormatReport(report))
			return nil
		},
	}
	cmd.Flags().StringVar(&versionID, "version", "", "Version id for tests that do not name one")
	cmd.Flags().BoolVar(&contextOnly, "context-only", false, "Skip answer generation and score facts against the context")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the report as JSON")
	return cmd
}
