package config

// Defaults for values whose zero value is meaningful.
const (
	DefaultThreshold = 0.8
	DefaultRetries   = 1
)

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.AllowedOrigins == nil {
		cfg.Server.AllowedOrigins = []string{"*"}
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "sqlite"
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = "/usr/local/var/feedspace/data/db/graph.db"
	}
	if cfg.Similarity.Workers == 0 {
		cfg.Similarity.Workers = 1
	}
	if cfg.Graph.LinkColorLow == "" {
		cfg.Graph.LinkColorLow = "#1f3b73"
	}
	if cfg.Graph.LinkColorHigh == "" {
		cfg.Graph.LinkColorHigh = "#f2c14e"
	}
	if cfg.Graph.NodeColor == "" {
		cfg.Graph.NodeColor = "#9ad1d4"
	}
	if cfg.Watch.Extensions == nil {
		cfg.Watch.Extensions = []string{".json"}
	}
	// Recursive defaults to true when unset (nil).
	if len(cfg.Watch.Directories) > 0 && cfg.Watch.Recursive == nil {
		t := true
		cfg.Watch.Recursive = &t
	}
}
