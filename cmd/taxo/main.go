package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pbaille/taxo/internal/api"
	"github.com/pbaille/taxo/internal/caption"
	"github.com/pbaille/taxo/internal/config"
	"github.com/pbaille/taxo/internal/domain"
	"github.com/pbaille/taxo/internal/embedding"
	"github.com/pbaille/taxo/internal/exchange"
	"github.com/pbaille/taxo/internal/review"
	"github.com/pbaille/taxo/internal/store"
	"github.com/pbaille/taxo/internal/workspace"
)

var (
	configPath    string
	dbPath        string
	workspaceName string
	author        string

	cfg *config.Config
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "taxo",
		Short:         "Build taxonomies over a pool of subjects",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "config file")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (overrides config)")
	rootCmd.PersistentFlags().StringVarP(&workspaceName, "workspace", "w", "", "workspace name (overrides config)")
	rootCmd.PersistentFlags().StringVar(&author, "author", "", "annotator name (overrides config)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(importCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(treeCmd())
	rootCmd.AddCommand(divideCmd())
	rootCmd.AddCommand(reviewCmd())
	rootCmd.AddCommand(workspacesCmd())
	rootCmd.AddCommand(cacheEmbeddingsCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) error {
	c, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("db") {
		c.Database = dbPath
	}
	if cmd.Flags().Changed("workspace") {
		c.Workspace = workspaceName
	}
	if cmd.Flags().Changed("author") {
		c.Author = author
	}
	cfg = c
	slog.SetDefault(cfg.Logger(os.Stderr))
	return nil
}

func getStore() (*store.Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(cfg.Database)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	return store.New(cfg.Database)
}

// openWorkspace loads the configured workspace with its collaborators.
func openWorkspace(s *store.Store) (*workspace.Workspace, error) {
	engineCfg, err := engineConfig()
	if err != nil {
		return nil, err
	}
	return workspace.Open(s, cfg.Workspace, engineCfg)
}

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the REST API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore()
			if err != nil {
				return err
			}
			// Note: don't defer s.Close() as server runs indefinitely

			ws, err := openWorkspace(s)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("addr") {
				cfg.Addr = addr
			}

			server := api.New(ws, s, cfg.Addr, slog.Default())
			return server.Run()
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", ":8080", "server address (overrides config)")
	return cmd
}

func importCmd() *cobra.Command {
	var subjectsPath string

	cmd := &cobra.Command{
		Use:   "import [progress.json]",
		Short: "Load a progress file and/or a subject pool into the workspace",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && subjectsPath == "" {
				return fmt.Errorf("nothing to import: give a progress file or --subjects")
			}

			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			ws, err := openWorkspace(s)
			if err != nil {
				return err
			}

			if len(args) == 1 {
				progresses, err := readProgress(args[0])
				if err != nil {
					return err
				}
				if err := ws.Apply(progresses); err != nil {
					return err
				}
				for _, p := range progresses {
					fmt.Printf("Imported %s: %d annotations\n", p.TaskName(), len(p.Records()))
				}
			}

			if subjectsPath != "" {
				subjects, err := readLines(subjectsPath)
				if err != nil {
					return err
				}
				ws.Engine.SetSubjects(subjects)
				fmt.Printf("Subject pool: %d subjects\n", len(subjects))
			}

			return ws.Save(s)
		},
	}

	cmd.Flags().StringVar(&subjectsPath, "subjects", "", "file with one subject id per line")
	return cmd
}

func exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export [progress.json]",
		Short: "Write the workspace as a progress file (stdout by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			ws, err := openWorkspace(s)
			if err != nil {
				return err
			}

			if len(args) == 0 {
				return exchange.Encode(os.Stdout, ws.Progress())
			}
			f, err := os.Create(args[0])
			if err != nil {
				return fmt.Errorf("create %s: %w", args[0], err)
			}
			defer f.Close()
			if err := exchange.Encode(f, ws.Progress()); err != nil {
				return err
			}
			fmt.Printf("Exported workspace %q to %s\n", ws.Name, args[0])
			return nil
		},
	}
}

func treeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tree",
		Short: "Print the taxonomy with subject counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			ws, err := openWorkspace(s)
			if err != nil {
				return err
			}

			forest := ws.Engine.Forest()
			if len(forest) == 0 {
				fmt.Println("No categories yet. Create some with the API or import a progress file.")
				return nil
			}

			var printTree func(n domain.TreeNode, indent int)
			printTree = func(n domain.TreeNode, indent int) {
				prefix := strings.Repeat("  ", indent)
				fmt.Printf("%s%s (%d)\n", prefix, n.Name, len(ws.Engine.SubjectsIn(n.Name)))
				for _, c := range n.Children {
					printTree(c, indent+1)
				}
			}
			for _, n := range forest {
				printTree(n, 0)
			}

			if uncertain := ws.Labels.Uncertain(); len(uncertain) > 0 {
				fmt.Printf("\n%d subjects marked Unsure\n", len(uncertain))
			}
			return nil
		},
	}
}

func divideCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "divide [taxon]",
		Short: "Split a category (or the whole pool) into clusters",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taxon := ""
			if len(args) == 1 {
				taxon = args[0]
			}

			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			ws, err := openWorkspace(s)
			if err != nil {
				return err
			}

			created, err := ws.Engine.DivideTaxon(cmd.Context(), taxon)
			if err != nil {
				return err
			}
			if len(created) == 0 {
				fmt.Println("Nothing to divide.")
				return nil
			}
			if err := ws.Save(s); err != nil {
				return err
			}
			for _, name := range created {
				fmt.Printf("%s (%d)\n", name, len(ws.Engine.SubjectsIn(name)))
			}
			return nil
		},
	}
}

func reviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "review [progress.json...]",
		Short: "Compare the taxonomies of several annotators",
		Long:  "Each file is one annotator's progress; the annotator is named after the file.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			board := review.NewBoard()
			for _, path := range args {
				progresses, err := readProgress(path)
				if err != nil {
					return err
				}
				name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
				p, err := review.BuildProfile(progresses, name)
				if err != nil {
					return err
				}
				board.AddProfiles(p)
			}

			var printTree func(n domain.ProvenanceNode, indent int)
			printTree = func(n domain.ProvenanceNode, indent int) {
				prefix := strings.Repeat("  ", indent)
				fmt.Printf("%s%s [%s]\n", prefix, n.Name, strings.Join(n.Contributors, ", "))
				for _, c := range n.Children {
					printTree(c, indent+1)
				}
			}
			for _, n := range board.MergedForest() {
				printTree(n, 0)
			}

			dissensus := board.Dissensus()
			fmt.Printf("\n%d subjects labeled, %d in consensus, %d in dissensus, %d marked Unsure\n",
				len(board.Subjects()), len(board.Consensus()), len(dissensus), len(board.Uncertain()))

			sort.Strings(dissensus)
			for _, s := range dissensus {
				fmt.Printf("  %s\n", truncate(s, 60))
			}
			return nil
		},
	}
}

func workspacesCmd() *cobra.Command {
	var remove string

	cmd := &cobra.Command{
		Use:   "workspaces",
		Short: "List saved workspaces",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := getStore()
			if err != nil {
				return err
			}
			defer s.Close()

			if remove != "" {
				if err := s.DeleteWorkspace(remove); err != nil {
					return err
				}
				fmt.Printf("Deleted workspace %q\n", remove)
				return nil
			}

			list, err := s.ListWorkspaces()
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Println("No workspaces yet.")
				return nil
			}
			for _, w := range list {
				who := "anonymous"
				if w.Author != nil {
					who = *w.Author
				}
				fmt.Printf("%s  %-20s  %-12s  %s\n", w.ID[:8], truncate(w.Name, 20), truncate(who, 12), w.UpdatedAt.Format("2006-01-02 15:04"))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&remove, "delete", "", "delete the named workspace")
	return cmd
}

func cacheEmbeddingsCmd() *cobra.Command {
	var captionsPath, outPath string

	cmd := &cobra.Command{
		Use:   "cache-embeddings",
		Short: "Embed captions with Voyage AI for local clustering",
		RunE: func(cmd *cobra.Command, args []string) error {
			if captionsPath == "" {
				captionsPath = cfg.Captions.Path
			}
			if outPath == "" {
				outPath = cfg.Embeddings.Path
			}
			if captionsPath == "" || outPath == "" {
				return fmt.Errorf("need --captions and --out (or captions.path and embeddings.path in config)")
			}

			svc, err := embedding.New()
			if err != nil {
				return err
			}

			f, err := os.Open(captionsPath)
			if err != nil {
				return fmt.Errorf("open captions: %w", err)
			}
			records, err := caption.ReadRecords(f)
			f.Close()
			if err != nil {
				return err
			}

			texts := make([]string, len(records))
			for i, r := range records {
				texts[i] = r.Caption
			}
			fmt.Printf("Embedding %d captions... ", len(texts))
			vectors, err := svc.EmbedBatch(cmd.Context(), texts)
			if err != nil {
				fmt.Println("failed")
				return err
			}
			fmt.Println("done")

			out := make([]embedding.Record, len(records))
			for i, r := range records {
				out[i] = embedding.Record{Filename: r.Filename, Embedding: vectors[i]}
			}

			if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
				return fmt.Errorf("create output dir: %w", err)
			}
			w, err := os.Create(outPath)
			if err != nil {
				return fmt.Errorf("create %s: %w", outPath, err)
			}
			defer w.Close()
			if err := embedding.Write(w, out); err != nil {
				return err
			}
			fmt.Printf("Wrote %s\n", outPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&captionsPath, "captions", "", "captions JSONL (defaults to captions.path)")
	cmd.Flags().StringVar(&outPath, "out", "", "embeddings JSONL to write (defaults to embeddings.path)")
	return cmd
}

func readProgress(path string) ([]exchange.Progress, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open progress: %w", err)
	}
	defer f.Close()
	progresses, err := exchange.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return progresses, nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			lines = append(lines, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return lines, nil
}

func truncate(s string, max int) string {
	// Replace newlines with spaces for display
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
