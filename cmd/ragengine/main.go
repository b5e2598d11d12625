package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/phuslu/log"
	"github.com/spf13/cobra"

	"ragengine/internal/app"
	"ragengine/internal/config"
	"ragengine/internal/domain"
)

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

type cli struct {
	cfgPath string
	verbose bool

	engine *app.Engine
	logger log.Logger
}

func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	level := log.WarnLevel
	if c.verbose {
		level = log.DebugLevel
	}
	c.logger = log.Logger{
		Level:  level,
		Writer: &log.ConsoleWriter{ColorOutput: true, Writer: os.Stderr},
	}

	var cfg *config.AppConfig
	var err error
	if c.cfgPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(c.cfgPath)
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	c.engine, err = app.Build(cmd.Context(), cfg, &c.logger)
	return err
}

func (c *cli) teardown(cmd *cobra.Command, _ []string) error {
	if c.engine == nil {
		return nil
	}
	return c.engine.Close(cmd.Context())
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:                "ragengine",
		Short:              "Ingest documents and ask questions against them",
		SilenceUsage:       true,
		SilenceErrors:      true,
		PersistentPreRunE:  c.setup,
		PersistentPostRunE: c.teardown,
	}
	root.PersistentFlags().StringVar(&c.cfgPath, "config", "", "path to config.yaml")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newUploadCmd(c),
		newAskCmd(c),
		newDocumentsCmd(c),
		newStatusCmd(c),
	)
	return root
}

func newUploadCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "upload <file>...",
		Short: "Ingest one or more text files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, path := range args {
				if err := uploadFile(cmd.Context(), c, path, cmd); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func uploadFile(ctx context.Context, c *cli, path string, cmd *cobra.Command) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	progress := make(chan domain.Progress, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for p := range progress {
			fmt.Fprintf(cmd.OutOrStdout(), "\r%s: embedded %d/%d chunks", filepath.Base(path), p.Completed, p.Total)
		}
	}()

	meta, err := c.engine.Service.Ingest(ctx, domain.IngestRequest{
		Filename:      filepath.Base(path),
		Format:        strings.TrimPrefix(filepath.Ext(path), "."),
		FileSizeBytes: int64(len(data)),
		Text:          string(data),
		Progress:      progress,
	})
	close(progress)
	<-done
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\r%s: %d chunks, %d tokens, document %s (%.0f ms)\n",
		meta.Filename, meta.ChunkCount, meta.TotalTokens, meta.DocumentID, meta.UploadTimeMs)
	return nil
}

func newAskCmd(c *cli) *cobra.Command {
	var (
		topK          int
		minSimilarity float64
		documents     []string
		noStream      bool
		showSources   bool
	)
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask a question against the ingested documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := domain.AskRequest{
				Query:       args[0],
				DocumentIDs: documents,
				TopK:        topK,
			}
			if cmd.Flags().Changed("min-similarity") {
				req.MinSimilarity = &minSimilarity
			}
			if !noStream {
				req.Sink = func(fragment string) {
					fmt.Fprint(cmd.OutOrStdout(), fragment)
				}
			}

			result, err := c.engine.Service.Ask(cmd.Context(), req)
			if err != nil {
				return err
			}
			if noStream {
				fmt.Fprint(cmd.OutOrStdout(), result.Response)
			}
			fmt.Fprintln(cmd.OutOrStdout())

			if showSources {
				for _, r := range result.Results {
					fmt.Fprintf(cmd.OutOrStdout(), "[%d] document %s chunk %d similarity %.3f\n",
						r.Rank, r.DocumentID, r.ChunkNumber, r.Score)
				}
			}
			m := result.Metrics
			fmt.Fprintf(cmd.OutOrStdout(), "(%d sources, embed %.0f ms, search %.0f ms, generate %.0f ms, total %.0f ms)\n",
				m.NumResults, m.EmbeddingTimeMs, m.SearchTimeMs, m.GenerationTimeMs, m.TotalTimeMs)
			return nil
		},
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "number of chunks to retrieve (0 = configured default)")
	cmd.Flags().Float64Var(&minSimilarity, "min-similarity", 0, "similarity threshold in [0,1]")
	cmd.Flags().StringSliceVarP(&documents, "documents", "d", nil, "restrict retrieval to these document IDs")
	cmd.Flags().BoolVar(&noStream, "no-stream", false, "wait for the full answer instead of streaming")
	cmd.Flags().BoolVar(&showSources, "sources", false, "print the retrieved chunks")
	return cmd
}

func newDocumentsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "documents",
		Short: "Manage ingested documents",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List ingested documents",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				docs, err := c.engine.Service.ListDocuments(cmd.Context())
				if err != nil {
					return err
				}
				if len(docs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No documents ingested.")
					return nil
				}
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "%-36s  %-10s  %-20s  %7s  %7s\n", "ID", "STATUS", "FILENAME", "CHUNKS", "TOKENS")
				for _, d := range docs {
					fmt.Fprintf(w, "%-36s  %-10s  %-20s  %7d  %7d\n",
						d.ID, d.Status, d.Filename, d.ChunkCount, d.TotalTokens)
					if d.Status == domain.StatusError && d.ErrorMessage != "" {
						fmt.Fprintf(w, "    error: %s\n", d.ErrorMessage)
					}
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "delete <document-id>",
			Short: "Delete a document and its chunks",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := c.engine.Service.DeleteDocument(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
				return nil
			},
		},
	)
	return cmd
}

func newStatusCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show documents and session metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			docs, err := c.engine.Service.ListDocuments(cmd.Context())
			if err != nil {
				return err
			}
			ready := 0
			for _, d := range docs {
				if d.Status == domain.StatusReady {
					ready++
				}
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Documents: %d (%d ready)\n", len(docs), ready)

			q := c.engine.Recorder.QueryStats(0)
			if q.Count > 0 {
				fmt.Fprintf(w, "Queries: %d, success %.0f%%, avg total %.0f ms, avg similarity %.3f\n",
					q.Count, q.SuccessRate*100, q.AvgTotalTimeMs, q.AvgSimilarity)
			}
			u := c.engine.Recorder.UploadStats(0)
			if u.Count > 0 {
				fmt.Fprintf(w, "Uploads: %d, success %.0f%%, avg %.0f ms\n",
					u.Count, u.SuccessRate*100, u.AvgUploadTimeMs)
			}
			sys := c.engine.Recorder.RecordSystem()
			fmt.Fprintf(w, "Process: %.1f MiB heap, %d goroutines\n",
				float64(sys.HeapAllocBytes)/(1<<20), sys.NumGoroutine)
			return nil
		},
	}
}
