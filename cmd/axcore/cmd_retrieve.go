package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/entrhq/axcore/pkg/a11y"
	"github.com/entrhq/axcore/pkg/app"
	"github.com/entrhq/axcore/pkg/retrieval"
)

var (
	retrieveFile       string
	retrieveQuery      string
	retrieveRoles      []string
	retrieveStates     []string
	retrieveStrategy   string
	retrieveThreshold  float64
	retrieveMaxResults int
	retrieveJSON       bool
)

var retrieveCmd = &cobra.Command{
	Use:   "retrieve",
	Short: "Query a saved accessibility snapshot",
	Long: `Runs the retrieval pipeline over an aria snapshot saved to a file, without
a browser. Without --query the filtered nodes are printed in document order.

Examples:
  axcore retrieve -f page.yaml --role 'button' --role 'link'
  axcore retrieve -f page.yaml --query "sign in" --state '-disabled'`,
	RunE: runRetrieve,
}

func init() {
	f := retrieveCmd.Flags()
	f.StringVarP(&retrieveFile, "file", "f", "", "Snapshot file, or - for stdin (required)")
	f.StringVarP(&retrieveQuery, "query", "q", "", "Natural-language query")
	f.StringSliceVar(&retrieveRoles, "role", nil, "Role glob to keep (repeatable)")
	f.StringSliceVar(&retrieveStates, "state", nil, "Required state; prefix with - to require its absence (repeatable)")
	f.StringVar(&retrieveStrategy, "strategy", "", "Chunking strategy: subtrees or individual_nodes")
	f.Float64Var(&retrieveThreshold, "threshold", 0, "Similarity threshold (default from config)")
	f.IntVar(&retrieveMaxResults, "max-results", 0, "Maximum matches, negative for no limit (default from config)")
	f.BoolVar(&retrieveJSON, "json", false, "Print the result as JSON")
	retrieveCmd.MarkFlagRequired("file")
}

func runRetrieve(cmd *cobra.Command, args []string) error {
	snapshot, err := readInput(cmd, retrieveFile)
	if err != nil {
		return err
	}
	strategy, err := retrieval.ParseStrategy(retrieveStrategy)
	if err != nil {
		return err
	}
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Close()

	retriever, _, err := app.NewRetriever(cfg, append([]app.Option{app.WithLogger(logger)}, appOptions...)...)
	if err != nil {
		return err
	}

	q := retrieval.Query{
		Text:     retrieveQuery,
		Filter:   a11y.FilterSpec{Roles: retrieveRoles, States: retrieveStates},
		Strategy: strategy,
	}
	if cmd.Flags().Changed("threshold") {
		q.Threshold = &retrieveThreshold
	}
	if cmd.Flags().Changed("max-results") {
		q.MaxResults = &retrieveMaxResults
	}

	res, err := retriever.Retrieve(cmd.Context(), string(snapshot), q)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if retrieveJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	_, err = fmt.Fprint(out, res.Format())
	return err
}
