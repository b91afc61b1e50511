package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	DBSource       string
	Port           string
	Env            string
	MilestonesPath string
}

func Load() (*Config, error) {
	// .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	dbSource := os.Getenv("DB_SOURCE")
	if dbSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}

	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}

	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	return &Config{
		DBSource:       dbSource,
		Port:           port,
		Env:            env,
		MilestonesPath: os.Getenv("MILESTONES_PATH"),
	}, nil
}

func (c *Config) Production() bool {
	return c.Env == "production"
}
