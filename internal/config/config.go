package config

import (
	"log"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Env         string     `yaml:"env" env-default:"local"`
	StoragePath string     `yaml:"storage_path" env:"STORAGE_PATH" env-required:"true"`
	HTTP        HTTPConfig `yaml:"http"`
	Auth        AuthConfig `yaml:"auth"`
	Vote        VoteConfig `yaml:"vote"`
}

type HTTPConfig struct {
	Port int `yaml:"port" env-default:"8082"`
}

type AuthConfig struct {
	Secret string `yaml:"secret" env:"AUTH_SECRET" env-required:"true"`
	Issuer string `yaml:"issuer" env-default:"opinify-auth"`
}

type VoteConfig struct {
	CommitRetries int           `yaml:"commit_retries" env-default:"3"`
	RetryBackoff  time.Duration `yaml:"retry_backoff" env-default:"100ms"`
}

func Load(path string) *Config {
	var config Config
	err := cleanenv.ReadConfig(path, &config)
	if err != nil {
		log.Fatalf("cannot read config: %s", err)
	}
	return &config
}
