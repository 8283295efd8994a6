package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config is everything the server reads from the environment. Delay knobs
// exist mainly for operations and tests; the defaults are the game's pacing.
type Config struct {
	Addr       string
	StaticDir  string
	StartDelay time.Duration
	TurnDelay  time.Duration
	ResetDelay time.Duration
}

// Load reads .env if present, then the environment, falling back to defaults.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Addr:       ":" + getenv("PORT", "8080"),
		StaticDir:  getenv("STATIC_DIR", "public"),
		StartDelay: getdur("START_DELAY", 1*time.Second),
		TurnDelay:  getdur("TURN_DELAY", 3*time.Second),
		ResetDelay: getdur("RESET_DELAY", 5*time.Second),
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
