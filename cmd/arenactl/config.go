/*
 * Copyright 2025 CloudWeGo Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"log/slog"
	"os"

	"github.com/kelseyhightower/envconfig"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/cloudwego/arenalloc/bench"
	"github.com/cloudwego/arenalloc/freelist"
	"github.com/cloudwego/arenalloc/pow2"
)

const envPrefix = "ARENACTL"

// Config is resolved from defaults, then the YAML file, then ARENACTL_*
// environment variables, then command line flags.
type Config struct {
	// FreeListArenaSize is the arena of the free-list allocator.
	FreeListArenaSize int `yaml:"freelist_arena_size" envconfig:"FREELIST_ARENA_SIZE"`
	// Pow2ArenaSize is the arena of the power-of-two allocator, a power of two.
	Pow2ArenaSize int `yaml:"pow2_arena_size" envconfig:"POW2_ARENA_SIZE"`

	LogLevel string `yaml:"log_level" envconfig:"LOG_LEVEL"`

	Bench BenchConfig `yaml:"bench" envconfig:"BENCH"`
}

type BenchConfig struct {
	Ops          int    `yaml:"ops" envconfig:"OPS"`
	Fixed        bool   `yaml:"fixed" envconfig:"FIXED"`
	MaxRequest   int    `yaml:"max_request" envconfig:"MAX_REQUEST"`
	FixedRequest int    `yaml:"fixed_request" envconfig:"FIXED_REQUEST"`
	Format       string `yaml:"format" envconfig:"FORMAT"`
}

func defaultConfig() Config {
	w := bench.DefaultWorkload()
	return Config{
		FreeListArenaSize: freelist.DefaultArenaSize,
		Pow2ArenaSize:     pow2.DefaultArenaSize,
		LogLevel:          "info",
		Bench: BenchConfig{
			Ops:          w.Ops,
			Fixed:        !w.RandomSizes,
			MaxRequest:   w.MaxRequest,
			FixedRequest: w.FixedRequest,
			Format:       "table",
		},
	}
}

// loadConfig reads path (if not empty) and the environment over the defaults.
func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Wrap(err, "reading config file")
		}
		if err := yaml.UnmarshalStrict(data, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "parsing config file %s", path)
		}
	}
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return cfg, errors.Wrap(err, "reading environment")
	}
	return cfg, nil
}

func (c BenchConfig) workload() bench.Workload {
	return bench.Workload{
		Ops:          c.Ops,
		RandomSizes:  !c.Fixed,
		MaxRequest:   c.MaxRequest,
		FixedRequest: c.FixedRequest,
	}
}

func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, errors.Wrapf(err, "invalid log level %q", level)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})), nil
}
