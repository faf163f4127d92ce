package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lexcounsel/memengine/internal/memory"
	"github.com/lexcounsel/memengine/pkg/engine"
)

var (
	tenantID string

	rememberType       string
	rememberKey        string
	rememberValue      string
	rememberContext    string
	rememberCategory   string
	rememberConfidence float64
	rememberID         string

	recallLimit    int
	recallMinScore float64
	recallTypes    []string
	recallMark     bool

	purgeConfirm bool

	ingestDocID  string
	ingestTitle  string
	ingestPage   int
	ingestBudget int
)

func init() {
	for _, c := range []*cobra.Command{rememberCmd, recallCmd, forgetCmd, purgeCmd, ingestCmd} {
		c.Flags().StringVarP(&tenantID, "tenant", "t", "", "tenant id (required)")
		_ = c.MarkFlagRequired("tenant")
		rootCmd.AddCommand(c)
	}

	rememberCmd.Flags().StringVar(&rememberType, "type", string(memory.TypeFact), "memory type")
	rememberCmd.Flags().StringVar(&rememberKey, "key", "", "memory key (required)")
	rememberCmd.Flags().StringVar(&rememberValue, "value", "", "memory value")
	rememberCmd.Flags().StringVar(&rememberContext, "context", "", "free-text context")
	rememberCmd.Flags().StringVar(&rememberCategory, "category", "", "category label")
	rememberCmd.Flags().Float64Var(&rememberConfidence, "confidence", memory.DefaultConfidence, "confidence in [0,1]")
	rememberCmd.Flags().StringVar(&rememberID, "id", "", "explicit id; storing it again replaces the memory")
	_ = rememberCmd.MarkFlagRequired("key")

	recallCmd.Flags().IntVarP(&recallLimit, "limit", "n", 0, "maximum memories (default: memory.default_limit)")
	recallCmd.Flags().Float64Var(&recallMinScore, "min-score", -1, "similarity threshold (default: memory.min_score)")
	recallCmd.Flags().StringSliceVar(&recallTypes, "type", nil, "restrict to memory types")
	recallCmd.Flags().BoolVar(&recallMark, "mark-accessed", false, "record a reference on returned memories")

	purgeCmd.Flags().BoolVar(&purgeConfirm, "yes", false, "confirm deleting every memory of the tenant")

	ingestCmd.Flags().StringVar(&ingestDocID, "doc-id", "", "document id (required)")
	ingestCmd.Flags().StringVar(&ingestTitle, "title", "", "document title")
	ingestCmd.Flags().IntVar(&ingestPage, "page", 0, "page number")
	ingestCmd.Flags().IntVar(&ingestBudget, "budget", 0, "approximate tokens per chunk (default: chunker default)")
	_ = ingestCmd.MarkFlagRequired("doc-id")
}

var rememberCmd = &cobra.Command{
	Use:   "remember",
	Short: "Store one memory for a tenant",
	Example: `  memctl remember -t tenant-42 --type fact --key case_number --value CR-2024-0099
  memctl remember -t tenant-42 --type preference --key salutation --value formal`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		typ, err := memory.ParseType(rememberType)
		if err != nil {
			return err
		}
		rt, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.close()

		id, err := rt.engine.RememberFact(cmd.Context(), tenantID, memory.Record{
			ID:         rememberID,
			Type:       typ,
			Category:   rememberCategory,
			KeyText:    rememberKey,
			ValueText:  rememberValue,
			Context:    rememberContext,
			Confidence: rememberConfidence,
			Source:     "memctl",
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), id)
		return nil
	},
}

var recallCmd = &cobra.Command{
	Use:   "recall <query>",
	Short: "Print the context block for a query",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := &engine.RecallOptions{Limit: recallLimit, MarkAccessed: recallMark}
		if recallMinScore >= 0 {
			opts.MinScore = memory.Threshold(recallMinScore)
		}
		for _, s := range recallTypes {
			typ, err := memory.ParseType(s)
			if err != nil {
				return err
			}
			opts.Types = append(opts.Types, typ)
		}

		rt, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.close()

		res, err := rt.engine.Recall(cmd.Context(), tenantID, strings.Join(args, " "), opts)
		if err != nil {
			return err
		}
		if !res.HasRelevantContext {
			cmd.Println("No relevant memories.")
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), res.ContextText)
		return nil
	},
}

var forgetCmd = &cobra.Command{
	Use:   "forget <memory-id>",
	Short: "Delete one memory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.close()

		if err := rt.engine.Forget(cmd.Context(), tenantID, args[0]); err != nil {
			return err
		}
		cmd.Printf("Deleted %s\n", args[0])
		return nil
	},
}

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete every memory and document chunk of a tenant",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if !purgeConfirm {
			return errors.New("purge deletes all data of the tenant; pass --yes to confirm")
		}
		rt, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.close()

		if err := rt.engine.ForgetAll(cmd.Context(), tenantID); err != nil {
			return err
		}
		cmd.Printf("Purged tenant %s\n", tenantID)
		return nil
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest <file|->",
	Short: "Chunk, embed and store a document",
	Example: `  memctl ingest -t tenant-42 --doc-id lease-7 --title "Lease" lease.txt
  cat lease.txt | memctl ingest -t tenant-42 --doc-id lease-7 --budget 200 -`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := readInput(cmd, args[0])
		if err != nil {
			return err
		}
		rt, err := openEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer rt.close()

		chunks, err := rt.engine.ChunkAndEmbedDocument(cmd.Context(), tenantID, ingestDocID, text,
			&memory.DocumentMetadata{Title: ingestTitle, Page: ingestPage, TokenBudget: ingestBudget})
		if err != nil {
			return err
		}
		cmd.Printf("Stored %d chunks for %s\n", len(chunks), ingestDocID)
		return nil
	},
}

// maxInputSize bounds documents read by ingest.
const maxInputSize = 10 * 1024 * 1024

func readInput(cmd *cobra.Command, path string) (string, error) {
	var r io.Reader
	if path == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(path)
		if err != nil {
			return "", fmt.Errorf("failed to open file: %w", err)
		}
		defer f.Close()
		r = f
	}
	data, err := io.ReadAll(io.LimitReader(r, maxInputSize+1))
	if err != nil {
		return "", fmt.Errorf("failed to read input: %w", err)
	}
	if len(data) > maxInputSize {
		return "", fmt.Errorf("input exceeds %d bytes", maxInputSize)
	}
	return string(data), nil
}
