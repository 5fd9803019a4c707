package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"

	"github.com/xhad/chainserve/internal/observability"
	"github.com/xhad/chainserve/pkg/chain"
	"github.com/xhad/chainserve/pkg/config"
	"github.com/xhad/chainserve/pkg/knowledge"
	"github.com/xhad/chainserve/pkg/pipeline"
	"github.com/xhad/chainserve/pkg/prompt"
	"github.com/xhad/chainserve/pkg/store"
	"github.com/xhad/chainserve/server"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server with every configured route",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}

			tp, err := observability.InitTracing(ctx, observability.TracingConfig{
				ServiceName:    cfg.Tracing.ServiceName,
				ServiceVersion: cfg.Server.Version,
				OTLPEndpoint:   cfg.Tracing.Endpoint,
				SampleRate:     cfg.Tracing.Rate(),
			})
			if err != nil {
				return err
			}
			defer func() { _ = tp.Shutdown(context.Background()) }()

			a, err := buildApp(ctx, cfg, cfg.Routes, cfg.Server.AllowAdd, true)
			if err != nil {
				return err
			}
			defer a.Close()

			var opts []server.Option
			if cfg.Server.AllowAdd {
				opts = append(opts, server.WithDocumentStore(a.kb.Store))
			}
			srv := server.New(server.Info{
				Title:       cfg.Server.Title,
				Version:     cfg.Server.Version,
				Description: cfg.Server.Description,
			}, a.routes, opts...)

			color.Cyan("\n%s %s", cfg.Server.Title, cfg.Server.Version)
			for _, r := range a.routes {
				fmt.Printf("  %s %s\n", color.GreenString("%-12s", r.Path), r.Kind)
			}
			if cfg.Server.AllowAdd {
				fmt.Printf("  %s %s\n", color.GreenString("%-12s", "/add"), "documents")
			}
			color.Cyan("Listening on http://%s (Ctrl+C to stop)", cfg.Addr())

			return srv.Start(ctx, cfg.Addr())
		},
	}
}

func newInvokeCmd(configPath *string) *cobra.Command {
	var (
		stream  bool
		history string
	)
	cmd := &cobra.Command{
		Use:   "invoke <path> <text>",
		Short: "Run one route once and print its output",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoute(cmd, *configPath, args[0], args[1], history, stream)
		},
	}
	cmd.Flags().BoolVar(&stream, "stream", false, "Print the output as it is generated")
	cmd.Flags().StringVar(&history, "history", "", `Chat history as JSON, e.g. '[["human","hi"],["ai","hello"]]'`)
	return cmd
}

func newTranslateCmd(configPath *string) *cobra.Command {
	var stream bool
	cmd := &cobra.Command{
		Use:   "translate <text>",
		Short: "Translate text to Chinese with the /chain route",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRoute(cmd, *configPath, "/chain", args[0], "", stream)
		},
	}
	cmd.Flags().BoolVar(&stream, "stream", false, "Print the output as it is generated")
	return cmd
}

func runRoute(cmd *cobra.Command, configPath, path, text, history string, stream bool) error {
	ctx := cmd.Context()
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	rc, err := findRoute(cfg, path)
	if err != nil {
		return err
	}
	a, err := buildApp(ctx, cfg, []config.Route{rc}, false, false)
	if err != nil {
		return err
	}
	defer a.Close()

	r, err := a.route(path)
	if err != nil {
		return err
	}
	input, err := buildInput(r.Chain.Schema(), text, history)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if !stream {
		res, err := r.Chain.Invoke(ctx, input)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, res.Text)
		printSources(out, res.Documents)
		return nil
	}

	res, err := r.Chain.Stream(ctx, input, func(_ context.Context, chunk string) error {
		_, err := fmt.Fprint(out, chunk)
		return err
	})
	fmt.Fprintln(out)
	if err != nil {
		return err
	}
	printSources(out, res.Documents)
	return nil
}

// buildInput assigns text to the schema's primary key and, when given, the
// JSON encoded history to the chat history key.
func buildInput(s chain.Schema, text, history string) (chain.Input, error) {
	if s.Primary == "" {
		return nil, fmt.Errorf("route takes no text input (needs %v)", s.Required)
	}
	input := chain.Input{s.Primary: text}
	if history == "" {
		return input, nil
	}
	if !slices.Contains(s.Optional, prompt.HistoryKey) {
		return nil, fmt.Errorf("route takes no chat history")
	}

	var raw any
	if err := json.Unmarshal([]byte(history), &raw); err != nil {
		return nil, fmt.Errorf("--history: %w", err)
	}
	msgs, err := chain.ParseHistory(raw)
	if err != nil {
		return nil, fmt.Errorf("--history: %w", err)
	}
	input[prompt.HistoryKey] = msgs
	return input, nil
}

func printSources(w io.Writer, docs []schema.Document) {
	if len(docs) == 0 {
		return
	}
	fmt.Fprintln(w, color.BlueString("\nSources:"))
	seen := make(map[string]bool)
	for _, d := range docs {
		src, _ := d.Metadata["source"].(string)
		if src == "" || seen[src] {
			continue
		}
		seen[src] = true
		fmt.Fprintf(w, "  - %s\n", src)
	}
}

func newChatCmd(configPath *string) *cobra.Command {
	var noStream bool
	cmd := &cobra.Command{
		Use:   "chat [path]",
		Short: "Chat interactively with a route, keeping history when it takes one",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := "/retrieval"
			if len(args) == 1 {
				path = args[0]
			}

			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			rc, err := findRoute(cfg, path)
			if err != nil {
				return err
			}
			a, err := buildApp(ctx, cfg, []config.Route{rc}, false, true)
			if err != nil {
				return err
			}
			defer a.Close()
			r, err := a.route(path)
			if err != nil {
				return err
			}

			return chatLoop(ctx, r, os.Stdin, !noStream)
		},
	}
	cmd.Flags().BoolVar(&noStream, "no-stream", false, "Wait for the full answer instead of streaming it")
	return cmd
}

func chatLoop(ctx context.Context, r pipeline.Route, in io.Reader, stream bool) error {
	s := r.Chain.Schema()
	if s.Primary == "" {
		return fmt.Errorf("route %s takes no text input", r.Path)
	}
	keepHistory := slices.Contains(s.Optional, prompt.HistoryKey)

	color.Cyan("\nChat with %s (type 'exit' to quit)", r.Path)

	scanner := bufio.NewScanner(in)
	userPrompt := color.New(color.FgGreen).PrintfFunc()
	assistantPrompt := color.New(color.FgCyan).PrintfFunc()

	var history []llms.ChatMessage
	for {
		userPrompt("\nYou: ")
		if !scanner.Scan() {
			break
		}

		query := strings.TrimSpace(scanner.Text())
		if query == "" {
			continue
		}
		if strings.ToLower(query) == "exit" {
			break
		}

		input := chain.Input{s.Primary: query}
		if keepHistory {
			input[prompt.HistoryKey] = history
		}

		var res chain.Output
		var err error
		if stream {
			fmt.Print("\n")
			assistantPrompt("Assistant: ")
			spinner := getSpinner(" Thinking...")
			firstChunk := true
			res, err = r.Chain.Stream(ctx, input, func(_ context.Context, chunk string) error {
				if firstChunk {
					_ = spinner.Finish()
					firstChunk = false
					fmt.Print("\n")
				}
				fmt.Print(chunk)
				return nil
			})
			if firstChunk {
				_ = spinner.Finish()
			}
			fmt.Print("\n")
		} else {
			spinner := getSpinner(" Generating response...")
			res, err = r.Chain.Invoke(ctx, input)
			_ = spinner.Finish()
			if err == nil {
				assistantPrompt("\nAssistant: %s\n", res.Text)
			}
		}
		if err != nil {
			color.Red("Error: %v\n", err)
			continue
		}
		printSources(os.Stdout, res.Documents)

		if keepHistory {
			history = append(history,
				llms.HumanChatMessage{Content: query},
				llms.AIChatMessage{Content: res.Text},
			)
		}
	}
	return scanner.Err()
}

func newIngestCmd(configPath *string) *cobra.Command {
	var clearStore bool
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Load, split and index the configured source into the vector store",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if cfg.Store.Backend == config.BackendMemory {
				color.Yellow("The memory store is not persisted; ingest only checks that the source loads and embeds.")
			}

			embedder, err := pipeline.NewEmbedder(cfg.LLM, cfg.Store.BatchSize)
			if err != nil {
				return err
			}
			st, err := store.New(ctx, knowledge.StoreConfig(cfg.Store), embedder)
			if err != nil {
				return fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
			}
			defer st.Close()

			if clearStore {
				if err := st.Clear(ctx); err != nil {
					return err
				}
				color.Yellow("Cleared %s store", cfg.Store.Backend)
			}

			bars := newIngestBars()
			docs, chunks, err := knowledge.Ingest(ctx, cfg, st, bars.progress())
			bars.finish()
			if err != nil {
				color.Red("Ingest failed: %v", err)
				return err
			}

			total, err := st.Count(ctx)
			if err != nil {
				return err
			}
			color.Green("✓ Indexed %d chunks from %d documents (%d in store)", chunks, docs, total)
			return nil
		},
	}
	cmd.Flags().BoolVar(&clearStore, "clear", false, "Remove every stored chunk before ingesting")
	return cmd
}

func newRoutesCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "List the configured routes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			printRoutes(cmd.OutOrStdout(), cfg)
			return nil
		},
	}
}

func printRoutes(w io.Writer, cfg *config.Config) {
	for _, r := range cfg.Routes {
		source := r.Template
		if source == "" {
			source = "inline"
		}
		model := r.Model
		if model == "" {
			model = cfg.LLM.Model
		}
		var flags []string
		if r.History {
			flags = append(flags, "history")
		}
		if r.HistoryAware {
			flags = append(flags, "history-aware")
		}
		if r.StripReasoning {
			flags = append(flags, "strip-reasoning")
		}
		fmt.Fprintf(w, "%-12s %-10s %-16s %-14s %s\n", r.Path, r.Kind, source, model, strings.Join(flags, ","))
	}
}
