package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/solace/internal/chat"
	"github.com/kalambet/solace/internal/config"
	"github.com/kalambet/solace/internal/engine"
	"github.com/kalambet/solace/internal/history"
	"github.com/kalambet/solace/internal/provision"
	"github.com/kalambet/solace/internal/tui"
)

// buildProvisioner wires config into a provisioner. When engine.base_url
// points at an already running llama-server, subprocess management is
// skipped and the model file is only validated locally.
func buildProvisioner(cfg config.Config) *provision.Provisioner {
	opts := provision.Options{
		SourceURL: cfg.Model.SourceURL,
		Dir:       cfg.Model.Dir,
		Filename:  cfg.Model.Filename,
		Engine: engine.Config{
			ContextWindow:  cfg.Model.ContextWindow,
			UseMlock:       true,
			GPULayers:      0,
			ReportProgress: true,
			ServerBin:      cfg.Engine.ServerBin,
		},
	}
	if cfg.Engine.BaseURL != "" {
		baseURL := cfg.Engine.BaseURL
		opts.Init = func(ctx context.Context, _ engine.Config) (engine.Handle, error) {
			s := engine.Connect(baseURL)
			if !s.Ready(ctx) {
				return nil, fmt.Errorf("llama-server at %s is not responding", baseURL)
			}
			return s, nil
		}
	}
	return provision.New(opts)
}

// buildSession assembles the session, optionally recording completed turns
// to the history store. The returned cleanup closes the store.
func buildSession(cfg config.Config, prov *provision.Provisioner) (*chat.Session, func(), error) {
	sessCfg := chat.Config{Variant: cfg.Model.Variant}
	cleanup := func() {}

	if cfg.History.Enabled {
		store, err := history.Open(cfg.History.DataDir)
		if err != nil {
			return nil, nil, fmt.Errorf("opening history: %w", err)
		}
		sessCfg.Recorder = store
		cleanup = func() { store.Close() }
	}

	return chat.New(prov, sessCfg), cleanup, nil
}

// --- chat (default command) ---

func runChat() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	prov := buildProvisioner(cfg)
	sess, cleanup, err := buildSession(cfg, prov)
	if err != nil {
		return err
	}
	defer cleanup()

	return tui.Run(sess, prov)
}

// --- provision ---

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Download the model and start the inference engine",
	Long: `Download the model file if it is not present, validate it, and start
the local inference engine. Interrupted downloads resume from where they
stopped.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		prov := buildProvisioner(cfg)

		printStep("Provisioning model at %s", prov.ModelPath())
		prov.Watch(func(pr provision.Progress) {
			fmt.Fprintf(os.Stderr, "\r  %s", renderProgressBar(pr.Ratio, 30))
			if pr.Ratio >= 1 {
				fmt.Fprintln(os.Stderr)
			}
		})

		if _, err := prov.EnsureModel(cmd.Context()); err != nil {
			fmt.Fprintln(os.Stderr)
			printError("Provisioning failed: %v", err)
			return err
		}

		printSuccess("Model ready at %s", prov.ModelPath())
		return nil
	},
}

// --- status ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show model and server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		prov := buildProvisioner(cfg)
		st := prov.Status()
		printStatus("Model", "%s", st.State)
		printStatus("Path", "%s", st.Path)
		printStatus("Variant", "%s", cfg.Model.Variant)
		printStatus("Context window", "%d", cfg.Model.ContextWindow)

		serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
		client := &http.Client{Timeout: 2 * time.Second}
		if resp, err := client.Get(serverURL + "/health"); err != nil {
			printStatus("Server", "stopped")
		} else {
			resp.Body.Close()
			if resp.StatusCode == 200 {
				printStatus("Server", "running on port %d", cfg.Server.Port)
			} else {
				printStatus("Server", "error (HTTP %d)", resp.StatusCode)
			}
		}

		if cfg.History.Enabled {
			printStatus("History", "enabled (%s)", cfg.History.DataDir)
		} else {
			printStatus("History", "disabled")
		}
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a configuration value, restoring the default",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}

		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}

// --- history ---

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List or clear persisted conversation history",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent persisted turns",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")

		store, err := history.Open(cfg.History.DataDir)
		if err != nil {
			return fmt.Errorf("opening history: %w", err)
		}
		defer store.Close()

		entries, err := store.Recent(limit)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No history recorded.")
			return nil
		}

		for _, e := range entries {
			content := e.Content
			if len(content) > 80 {
				content = content[:80] + "..."
			}
			fmt.Printf("%s  %-9s  %s\n",
				e.CreatedAt.Local().Format("2006-01-02 15:04"),
				colorize(colorCyan, string(e.Role)),
				content,
			)
		}
		return nil
	},
}

var historyClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete all persisted history",
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm, _ := cmd.Flags().GetBool("confirm")
		if !confirm {
			printWarning("This will delete ALL persisted history. Use --confirm to proceed.")
			return nil
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		store, err := history.Open(cfg.History.DataDir)
		if err != nil {
			return fmt.Errorf("opening history: %w", err)
		}
		defer store.Close()

		if err := store.Clear(); err != nil {
			return err
		}

		printSuccess("History cleared")
		return nil
	},
}

func init() {
	historyListCmd.Flags().Int("limit", 20, "maximum number of turns to list")
	historyClearCmd.Flags().Bool("confirm", false, "confirm history deletion")
	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyClearCmd)
}
