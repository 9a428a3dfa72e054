package main

import (
	"github.com/caarlos0/env/v11"
)

type Config struct {
	AppEnv      string `env:"APP_ENV" envDefault:"local"`
	Port        string `env:"PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL,required"`
	DBMaxConns  int    `env:"DB_MAX_CONNS" envDefault:"10"`
	DevMode     bool   `env:"DEV_MODE" envDefault:"false"`
}

func loadConfig() (Config, error) {
	return env.ParseAs[Config]()
}
