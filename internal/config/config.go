package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	DBPath       string        `env:"DB_PATH" envDefault:"quizwire.db"`
	AnswerWindow time.Duration `env:"ANSWER_WINDOW" envDefault:"20s"`
	RoundPause   time.Duration `env:"ROUND_PAUSE" envDefault:"5s"`
	LogLevel     string        `env:"LOG_LEVEL" envDefault:"info"`

	// Quiz generation is optional; the endpoint mounts only with a key set.
	OpenAIKey     string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL"`
	AIModel       string `env:"AI_MODEL" envDefault:"gpt-4o-mini"`
}

func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	return &cfg, nil
}
