package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"chatd/internal/config"
	"chatd/internal/history"
)

// flagValues holds raw flag input; only flags the user set override the config file.
type flagValues struct {
	configPath    string
	addr          string
	backend       string
	ollamaURL     string
	modelsDir     string
	historyDir    string
	vectorDir     string
	embedProvider string
	embedModel    string
	preload       string
	corsOrigins   string
	logLevel      string
	logFormat     string
	timeoutSec    int
	serialize     bool
}

func newRootCmd() *cobra.Command {
	root, _ := newRootCommand()
	return root
}

func newRootCommand() (*cobra.Command, *flagValues) {
	fv := &flagValues{}
	root := &cobra.Command{
		Use:           "chatd",
		Short:         "Chat with locally hosted language models over HTTP",
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, fv)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&fv.configPath, "config", "c", "", "Config file (.yaml, .yml, .json, .toml)")
	pf.StringVar(&fv.historyDir, "history-dir", "", "Directory holding chat_<model>_memory.json logs")
	pf.StringVar(&fv.logLevel, "log-level", "", "Log level: debug|info|warn|error")
	pf.StringVar(&fv.logFormat, "log-format", "", "Log format: console|json")

	f := root.Flags()
	f.StringVar(&fv.addr, "addr", "", "HTTP listen address (default :8000, env CHATD_ADDR)")
	f.StringVar(&fv.backend, "backend", "", "Inference backend: ollama|llama")
	f.StringVar(&fv.ollamaURL, "ollama-url", "", "Ollama base URL (env OLLAMA_HOST)")
	f.StringVar(&fv.modelsDir, "models-dir", "", "Directory to scan for *.gguf files (llama backend)")
	f.StringVar(&fv.vectorDir, "vector-dir", "", "Directory holding vector_memory_<model> indexes")
	f.StringVar(&fv.embedProvider, "embed-provider", "", "Embedding provider: ollama|hash")
	f.StringVar(&fv.embedModel, "embed-model", "", "Embedding model for the ollama provider")
	f.StringVar(&fv.preload, "preload", "", "Comma-separated model ids to preload")
	f.StringVar(&fv.corsOrigins, "cors-origins", "", "Comma-separated allowed CORS origins")
	f.IntVar(&fv.timeoutSec, "request-timeout", 0, "Per-request timeout in seconds (0 disables)")
	f.BoolVar(&fv.serialize, "serialize-per-model", false, "Serialize turns per model behind an admission queue")

	root.AddCommand(newResetCmd(fv))
	return root, fv
}

func newResetCmd(fv *flagValues) *cobra.Command {
	var model string
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Clear the persisted conversation log of a model",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, fv)
			if err != nil {
				return err
			}
			hs, err := history.NewFileStore(cfg.HistoryDir)
			if err != nil {
				return err
			}
			if err := hs.Clear(cmd.Context(), model); err != nil {
				return fmt.Errorf("reset %s: %w", model, err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			return enc.Encode(map[string]string{"status": "ok", "message": "Conversation reset for model " + model})
		},
	}
	cmd.Flags().StringVarP(&model, "model", "m", "mistral", "Model identifier")
	return cmd
}

// resolveConfig layers defaults < config file < environment < flags.
func resolveConfig(cmd *cobra.Command, fv *flagValues) (config.Config, error) {
	var cfg config.Config
	if fv.configPath != "" {
		loaded, err := config.Load(fv.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	cfg.ApplyEnv()

	flags := cmd.Flags()
	set := func(name string, apply func()) {
		if flags.Changed(name) {
			apply()
		}
	}
	set("addr", func() { cfg.Addr = fv.addr })
	set("backend", func() { cfg.Backend = fv.backend })
	set("ollama-url", func() { cfg.OllamaURL = fv.ollamaURL })
	set("models-dir", func() { cfg.ModelsDir = fv.modelsDir })
	set("history-dir", func() { cfg.HistoryDir = fv.historyDir })
	set("vector-dir", func() { cfg.VectorDir = fv.vectorDir })
	set("embed-provider", func() { cfg.EmbedProvider = fv.embedProvider })
	set("embed-model", func() { cfg.EmbedModel = fv.embedModel })
	set("preload", func() { cfg.PreloadModels = splitCSV(fv.preload) })
	set("cors-origins", func() { cfg.CORSOrigins = splitCSV(fv.corsOrigins) })
	set("log-level", func() { cfg.LogLevel = fv.logLevel })
	set("log-format", func() { cfg.LogFormat = fv.logFormat })
	set("request-timeout", func() { cfg.RequestTimeoutSeconds = fv.timeoutSec })
	set("serialize-per-model", func() { cfg.SerializePerModel = fv.serialize })

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }
