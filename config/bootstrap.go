package config

import (
	"fmt"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Bootstrap holds the handful of process-startup settings mockforged
// needs before anything else is wired, decoded in one shot with
// joeshaw/envdecode rather than read field-by-field through Source, the
// way the pipeline's example config packages load their top-level
// settings structs.
type Bootstrap struct {
	Port             string `env:"PORT,default=8080"`
	Seed             int64  `env:"MOCKFORGE_SEED,default=1"`
	StrictTemplates  bool   `env:"MOCKFORGE_STRICT_TEMPLATES,default=false"`
	StrictValidation bool   `env:"MOCKFORGE_STRICT_VALIDATION,default=false"`
	FaultSeed        int64  `env:"MOCKFORGE_FAULT_SEED,default=1"`
	LogLevel         string `env:"MOCKFORGE_LOG_LEVEL,default=info"`
	LogFormat        string `env:"MOCKFORGE_LOG_FORMAT,default=json"`

	ProxyEnabled bool   `env:"MOCKFORGE_PROXY_ENABLED,default=false"`
	ProxyBaseURL string `env:"MOCKFORGE_PROXY_BASE_URL"`

	AnalyticsSink    string `env:"MOCKFORGE_ANALYTICS_SINK,default=none"` // none|redis|postgres
	AnalyticsDSN     string `env:"MOCKFORGE_ANALYTICS_DSN"`
	AdminUser        string `env:"MOCKFORGE_ADMIN_USER,default=admin"`
	AdminPasswordHash string `env:"MOCKFORGE_ADMIN_PASSWORD_HASH"`
}

// LoadBootstrap loads an optional .env file (if present, via
// joho/godotenv; a missing file is not an error) and then decodes the
// process environment into a Bootstrap.
func LoadBootstrap() (Bootstrap, error) {
	_ = godotenv.Load()

	var b Bootstrap
	if err := envdecode.Decode(&b); err != nil {
		// envdecode errors when none of the tagged fields were set in the
		// environment; every field then keeps its declared default (or its
		// zero value, for ProxyBaseURL, AnalyticsDSN and AdminPasswordHash),
		// so that case just means "run with defaults", not a real failure.
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return Bootstrap{}, fmt.Errorf("config: decode bootstrap: %w", err)
		}
	}
	return b, nil
}
