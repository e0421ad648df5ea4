package config

type Config struct {
	Model   ModelConfig
	Engine  EngineConfig
	Server  ServerConfig
	History HistoryConfig
	Log     LogConfig
}

type ModelConfig struct {
	// SourceURL is where the GGUF file is downloaded from when absent.
	SourceURL string
	// Dir is the local directory holding downloaded models.
	Dir string
	// Filename is version-qualified so model upgrades never collide with a
	// previously downloaded file.
	Filename      string
	ContextWindow int
	// Variant is "compact" or "full" and selects the reply length cap.
	Variant string
}

type EngineConfig struct {
	// BaseURL, when set, points at an already running llama-server and
	// disables subprocess management.
	BaseURL string
	// ServerBin is the llama-server binary to spawn when BaseURL is empty.
	ServerBin string
}

type ServerConfig struct {
	Port int
}

type HistoryConfig struct {
	Enabled bool
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Model: ModelConfig{
			SourceURL:     "https://huggingface.co/TheBloke/TinyLlama-1.1B-Chat-v1.0-GGUF/resolve/main/tinyllama-1.1b-chat-v1.0.Q4_K_M.gguf",
			Dir:           defaultModelsDir(dataDir),
			Filename:      "tinyllama-1.1b-chat-v1.0.Q4_K_M.gguf",
			ContextWindow: 2048,
			Variant:       "full",
		},
		Engine: EngineConfig{
			ServerBin: "llama-server",
		},
		Server: ServerConfig{
			Port: 4000,
		},
		History: HistoryConfig{
			Enabled: false,
			DataDir: dataDir,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file backend at
// $XDG_CONFIG_HOME/solace/config.json, then applies SOLACE_* environment
// variable overrides.
func Load() (Config, error) {
	return loadWith(newPlatformBackend())
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	return cfg, nil
}
