package app

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/docmesh/graphrag-backend/internal/platform/envutil"
	"github.com/docmesh/graphrag-backend/internal/platform/logger"
)

type Config struct {
	Port      string `yaml:"port"`
	JWTSecret string `yaml:"jwt_secret"`
}

// LoadConfig reads the optional YAML config file (CONFIG_FILE, default
// config.yaml) and overlays environment variables on top. Env always wins.
func LoadConfig(log *logger.Logger) Config {
	cfg := Config{Port: "8080"}

	path := envutil.Str("CONFIG_FILE", "config.yaml")
	if raw, err := os.ReadFile(path); err == nil {
		if uErr := yaml.Unmarshal(raw, &cfg); uErr != nil {
			log.Warn("Failed to parse config file, ignoring it", "path", path, "error", uErr)
			cfg = Config{Port: "8080"}
		} else {
			log.Info("Loaded config file", "path", path)
		}
	}

	if v := envutil.Str("PORT", ""); v != "" {
		cfg.Port = v
	}
	if v := envutil.Str("JWT_SECRET_KEY", ""); v != "" {
		cfg.JWTSecret = v
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "defaultsecret"
		log.Warn("JWT_SECRET_KEY not set, using insecure default")
	}
	return cfg
}
