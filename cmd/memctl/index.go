package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lexcounsel/memengine/internal/vectorstore"
)

var (
	indexName      string
	indexDimension int
	indexMetric    string
)

func init() {
	indexCreateCmd.Flags().StringVar(&indexName, "name", "", "index name (default: vectorstore.index_name)")
	indexCreateCmd.Flags().IntVar(&indexDimension, "dimension", 0, "vector dimension (default: vectorstore.dimension)")
	indexCreateCmd.Flags().StringVar(&indexMetric, "metric", vectorstore.MetricCosine, "distance metric")
	indexStatsCmd.Flags().StringVar(&indexName, "name", "", "index name (default: vectorstore.index_name)")

	indexCmd.AddCommand(indexCreateCmd, indexStatsCmd)
	rootCmd.AddCommand(indexCmd)
}

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Provision and inspect the vector index",
}

var indexCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create the vector index",
	Long: `Create the vector index the engine stores memories in.

The engine never creates its index on its own; when the index is missing,
startup fails with the exact command to run.

Examples:
  memctl index create --name legal-memories --dimension 1536 --metric cosine`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		name, dim := indexName, indexDimension
		if name == "" {
			name = cfg.VectorStore.IndexName
		}
		if dim == 0 {
			dim = cfg.VectorStore.Dimension
		}
		if dim <= 0 {
			return fmt.Errorf("dimension must be > 0, got %d", dim)
		}

		backend, err := newBackend(cfg, logger)
		if err != nil {
			return err
		}
		defer func() { _ = backend.Close() }()

		if err := backend.CreateIndex(ctx, name, dim, indexMetric); err != nil {
			return fmt.Errorf("creating index %s: %w", name, err)
		}
		cmd.Printf("Created index %s (dimension %d, metric %s)\n", name, dim, indexMetric)
		return nil
	},
}

var indexStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show vector counts for the index",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		cfg, logger, err := setup()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		name := indexName
		if name == "" {
			name = cfg.VectorStore.IndexName
		}
		backend, err := newBackend(cfg, logger)
		if err != nil {
			return err
		}
		defer func() { _ = backend.Close() }()

		stats, err := backend.Stats(ctx, name)
		if err != nil {
			return fmt.Errorf("reading stats for %s: %w", name, err)
		}
		cmd.Printf("Index:      %s\n", name)
		cmd.Printf("Dimension:  %d\n", stats.Dimension)
		cmd.Printf("Vectors:    %d\n", stats.TotalCount)
		if stats.Namespaces != nil {
			cmd.Printf("Namespaces: %d\n", len(stats.Namespaces))
		}
		return nil
	},
}
