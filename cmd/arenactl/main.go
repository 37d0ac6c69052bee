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

// Command arenactl demonstrates and benchmarks the arena allocators.
package main

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"github.com/cloudwego/arenalloc/bench"
	"github.com/cloudwego/arenalloc/freelist"
	"github.com/cloudwego/arenalloc/pow2"
)

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

type env struct {
	cfg  Config
	out  io.Writer
	fl   *freelist.Allocator
	pow2 *pow2.Allocator
}

func newApp(out io.Writer) *cli.App {
	e := &env{out: out}

	return &cli.App{
		Name:  "arenactl",
		Usage: "exercise the free-list and power-of-two arena allocators",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to a YAML config file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "debug, info, warn or error",
			},
		},
		Before: func(c *cli.Context) error {
			cfg, err := loadConfig(c.String("config"))
			if err != nil {
				return err
			}
			if c.IsSet("log-level") {
				cfg.LogLevel = c.String("log-level")
			}
			e.cfg = cfg
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "demo",
				Usage:  "run the scripted allocation scenarios and dump allocator state",
				Before: e.initAllocators,
				After:  e.closeAllocators,
				Action: e.demo,
			},
			{
				Name:  "bench",
				Usage: "run an allocate-all/free-all workload against both allocators",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "ops", Usage: "number of allocations"},
					&cli.BoolFlag{Name: "fixed", Usage: "use fixed-size requests instead of random ones"},
					&cli.IntFlag{Name: "max-request", Usage: "largest random request in bytes"},
					&cli.IntFlag{Name: "fixed-request", Usage: "request size with --fixed"},
					&cli.StringFlag{Name: "format", Usage: "table or yaml"},
				},
				Before: e.initAllocators,
				After:  e.closeAllocators,
				Action: e.bench,
			},
		},
	}
}

func (e *env) initAllocators(c *cli.Context) error {
	logger, err := newLogger(e.cfg.LogLevel)
	if err != nil {
		return err
	}

	e.fl = freelist.New(&freelist.Option{ArenaSize: e.cfg.FreeListArenaSize, Logger: logger})
	if err := e.fl.Init(); err != nil {
		return errors.Wrap(err, "initializing free-list allocator")
	}
	e.pow2 = pow2.New(&pow2.Option{ArenaSize: e.cfg.Pow2ArenaSize, Logger: logger})
	if err := e.pow2.Init(); err != nil {
		return errors.Wrap(err, "initializing power-of-two allocator")
	}
	logger.Debug("allocators ready",
		"freelist_arena", e.cfg.FreeListArenaSize,
		"pow2_arena", e.cfg.Pow2ArenaSize)
	return nil
}

func (e *env) closeAllocators(c *cli.Context) error {
	var firstErr error
	if e.fl != nil {
		firstErr = e.fl.Close()
	}
	if e.pow2 != nil {
		if err := e.pow2.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (e *env) bench(c *cli.Context) error {
	bc := e.cfg.Bench
	if c.IsSet("ops") {
		bc.Ops = c.Int("ops")
	}
	if c.IsSet("fixed") {
		bc.Fixed = c.Bool("fixed")
	}
	if c.IsSet("max-request") {
		bc.MaxRequest = c.Int("max-request")
	}
	if c.IsSet("fixed-request") {
		bc.FixedRequest = c.Int("fixed-request")
	}
	if c.IsSet("format") {
		bc.Format = c.String("format")
	}
	if bc.Ops < 0 {
		return errors.Errorf("ops must not be negative, got %d", bc.Ops)
	}

	w := bc.workload()
	reports := []bench.Report{
		bench.Run("FreeList", e.fl, w).Report(),
		bench.Run("PowerOfTwo", e.pow2, w).Report(),
	}
	switch bc.Format {
	case "table":
		return bench.WriteTable(e.out, reports...)
	case "yaml":
		return bench.WriteYAML(e.out, reports...)
	default:
		return errors.Errorf("unknown format %q", bc.Format)
	}
}

func (e *env) demo(c *cli.Context) error {
	out := e.out

	fmt.Fprintln(out, "=== free-list allocator ===")
	a1 := e.fl.Malloc(32)
	a2 := e.fl.Malloc(64)
	a3 := e.fl.Malloc(128)
	fmt.Fprintf(out, "allocated a1=%d a2=%d a3=%d\n", a1, a2, a3)
	if err := e.fl.Dump(out); err != nil {
		return err
	}
	fmt.Fprintln(out, "free a2")
	e.fl.Free(a2)
	if err := e.fl.Dump(out); err != nil {
		return err
	}
	fmt.Fprintln(out, "free a1 and a3")
	e.fl.Free(a1)
	e.fl.Free(a3)
	if err := e.fl.Dump(out); err != nil {
		return err
	}
	fmt.Fprintf(out, "splits=%d merges=%d\n", e.fl.SplitCount(), e.fl.MergeCount())

	fmt.Fprintln(out, "\n=== power-of-two allocator ===")
	b1 := e.pow2.Malloc(32)
	b2 := e.pow2.Malloc(128)
	b3 := e.pow2.Malloc(300)
	fmt.Fprintf(out, "allocated b1=%d b2=%d b3=%d\n", b1, b2, b3)
	if err := e.pow2.Dump(out); err != nil {
		return err
	}
	fmt.Fprintln(out, "free b2")
	e.pow2.Free(b2)
	if err := e.pow2.Dump(out); err != nil {
		return err
	}
	fmt.Fprintln(out, "free b1 and b3")
	e.pow2.Free(b1)
	e.pow2.Free(b3)
	if err := e.pow2.Dump(out); err != nil {
		return err
	}
	fmt.Fprintf(out, "splits=%d merges=%d\n", e.pow2.SplitCount(), e.pow2.MergeCount())
	return nil
}
