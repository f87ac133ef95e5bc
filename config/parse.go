package config

import (
	"fmt"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

/*
Parse read the configuration from the environment

Variables in a .env file in the working directory are loaded first, without
overriding variables already set.

	@param envFiles ...string - additional env files to load
	@returns the configuration
*/
func Parse(envFiles ...string) (Config, error) {
	_ = godotenv.Load(envFiles...)

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config [%w]", err)
	}

	return cfg, nil
}
