package env

import (
	"context"
	"os"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	AppID     string `env:"CHIRP_APP_ID,default=1003903"`
	CacheDir  string `env:"CHIRP_CACHE_DIR,default=.chirp-cache"`
	UserAgent string `env:"CHIRP_USER_AGENT"`
	DebugHTTP bool   `env:"CHIRP_DEBUG_HTTP"`
}

func LoadConfig(ctx context.Context) (*Config, error) {
	config := Config{}

	if err := godotenv.Load(".env.local"); err != nil {
		if !os.IsNotExist(err) {
			panic(err)
		}
	}

	if err := envconfig.Process(ctx, &config); err != nil {
		return nil, err
	}

	return &config, nil
}
