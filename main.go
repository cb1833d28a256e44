/*
Copyright 2022 The l7mp/stunner team.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/l7mp/dexplain/internal/buildinfo"
	"github.com/l7mp/dexplain/pkg/computation"
	"github.com/l7mp/dexplain/pkg/computation/cc"
	"github.com/l7mp/dexplain/pkg/computation/stable"
	"github.com/l7mp/dexplain/pkg/config"
	"github.com/l7mp/dexplain/pkg/dbsp"
	"github.com/l7mp/dexplain/pkg/engine"
	"github.com/l7mp/dexplain/pkg/provenance"
	"github.com/l7mp/dexplain/pkg/script"
	"github.com/l7mp/dexplain/pkg/util"
	"github.com/l7mp/dexplain/pkg/visualize"
)

var (
	version    = "dev"
	commitHash = "n/a"
	buildDate  = "<unknown>"
)

type options struct {
	config   string
	script   string
	graph    string
	noLabels bool
	query    string
	format   string
	zap      zap.Options
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{zap: zap.Options{
		Development:     true,
		DestWriter:      os.Stderr,
		StacktraceLevel: zapcore.Level(3),
		TimeEncoder:     zapcore.RFC3339NanoTimeEncoder,
	}}

	root := &cobra.Command{
		Use:          "dexplain",
		Short:        "Incremental explanations for iterative dataflow computations",
		Version:      buildinfo.BuildInfo{Version: version, CommitHash: commitHash, BuildDate: buildDate}.String(),
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&opts.config, "config", "c", "", "config file")
	root.PersistentFlags().StringVarP(&opts.script, "script", "s", "", "edit script, stdin if empty")
	fs := flag.NewFlagSet("zap", flag.ContinueOnError)
	opts.zap.BindFlags(fs)
	root.PersistentFlags().AddGoFlagSet(fs)

	ccCmd := &cobra.Command{
		Use:   "cc",
		Short: "Explain the labels of a label propagation run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts, "cc", cmd.OutOrStdout())
		},
	}
	ccCmd.Flags().StringVarP(&opts.graph, "graph", "g", "", "edge list loaded in the first epoch")
	ccCmd.Flags().BoolVar(&opts.noLabels, "no-labels", false, "do not label the nodes of the edge list")

	stableCmd := &cobra.Command{
		Use:   "stable",
		Short: "Explain the pairs of a stable matching",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts, "stable", cmd.OutOrStdout())
		},
	}

	explainCmd := &cobra.Command{
		Use:   "explain <cc|stable>",
		Short: "Render the explanation graph of a query after running a script",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return explain(cmd.Context(), opts, args[0], cmd.OutOrStdout())
		},
	}
	explainCmd.Flags().StringVarP(&opts.graph, "graph", "g", "", "edge list loaded in the first epoch")
	explainCmd.Flags().BoolVar(&opts.noLabels, "no-labels", false, "do not label the nodes of the edge list")
	explainCmd.Flags().StringVarP(&opts.query, "query", "q", "", "arguments of the queried record, e.g. \"2 0\"")
	explainCmd.Flags().StringVarP(&opts.format, "format", "f", "dot", "output format: dot or mermaid")
	_ = explainCmd.MarkFlagRequired("query")

	root.AddCommand(ccCmd, stableCmd, explainCmd)
	return root
}

func newComputation(name string, log logr.Logger) (computation.Computation, error) {
	switch name {
	case "cc":
		return cc.New(log), nil
	case "stable":
		return stable.New(log), nil
	}
	return nil, fmt.Errorf("unknown computation %q", name)
}

// setup loads the configuration and builds the logger, the computation and the engine.
func setup(opts *options, name string) (*engine.Engine, config.Config, logr.Logger, error) {
	cfg, err := config.Load(opts.config)
	if err != nil {
		return nil, cfg, logr.Discard(), err
	}
	if level, ok := zapLevel(cfg.LogLevel); ok && opts.zap.Level == nil {
		opts.zap.Level = level
	}
	logger := zap.New(zap.UseFlagOptions(&opts.zap))
	setupLog := logger.WithName("setup")
	setupLog.Info(fmt.Sprintf("starting dexplain version %s",
		buildinfo.BuildInfo{Version: version, CommitHash: commitHash, BuildDate: buildDate}))

	c, err := newComputation(name, logger)
	if err != nil {
		return nil, cfg, logger, err
	}
	eopts := cfg.EngineOptions()
	eopts.Logger = logger
	e := engine.New(c, eopts)

	if cfg.Metrics.Enabled && cfg.Metrics.Address != "" {
		go func() {
			handler := promhttp.HandlerFor(engine.Registry, promhttp.HandlerOpts{})
			if err := http.ListenAndServe(cfg.Metrics.Address, handler); err != nil {
				setupLog.Error(err, "metrics endpoint failed")
			}
		}()
	}
	return e, cfg, logger, nil
}

// replay feeds the edge list and the edit script into the engine, one epoch per script line.
func replay(ctx context.Context, opts *options, e *engine.Engine, fn func(*engine.Result)) error {
	epoch := uint64(0)
	if opts.graph != "" {
		f, err := os.Open(opts.graph)
		if err != nil {
			return err
		}
		edits, err := script.LoadEdgeList(f, !opts.noLabels)
		f.Close()
		if err != nil {
			return fmt.Errorf("%s: %w", opts.graph, err)
		}
		res, err := e.Step(ctx, epoch, edits)
		if err != nil {
			return err
		}
		fn(res)
		epoch++
	}

	var in io.Reader = os.Stdin
	if opts.script != "" {
		f, err := os.Open(opts.script)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	p := script.NewParser(e.Computation().Grammar())
	return p.Scan(in, func(ep script.Epoch) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := e.Step(ctx, epoch, ep.Edits)
		if err != nil {
			return fmt.Errorf("line %d: %w", ep.Line, err)
		}
		fn(res)
		epoch++
		return nil
	})
}

func run(ctx context.Context, opts *options, name string, out io.Writer) error {
	e, _, log, err := setup(opts, name)
	if err != nil {
		return err
	}
	g := e.Computation().Grammar()
	err = replay(ctx, opts, e, func(res *engine.Result) {
		for _, entry := range res.Changes.List() {
			fmt.Fprintln(out, formatChange(g, res.Epoch, entry))
		}
		for _, q := range res.Vacuous {
			fmt.Fprintf(out, "%d %s vacuous\n", res.Epoch, formatRecord(g, q.Collection, q.Record))
		}
		for _, m := range res.Malformed {
			log.Info("malformed derivation", "epoch", res.Epoch, "error", m.Error())
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error(err, "run failed")
		return err
	}
	return nil
}

func explain(ctx context.Context, opts *options, name string, out io.Writer) error {
	gen, ok := visualize.NewGenerator(opts.format)
	if !ok {
		return fmt.Errorf("unknown format %q", opts.format)
	}
	e, _, _, err := setup(opts, name)
	if err != nil {
		return err
	}
	if err := replay(ctx, opts, e, func(*engine.Result) {}); err != nil {
		return err
	}

	g := e.Computation().Grammar()
	args := []int64{}
	for _, f := range strings.Fields(opts.query) {
		n, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid query argument %q", f)
		}
		args = append(args, n)
	}
	rec, err := g.Query.Record(args)
	if err != nil {
		return err
	}
	ex, err := computation.Explain(ctx, e.Computation(), e.Inputs(), provenance.NewQuery(g.Query.Collection, rec))
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(out, gen.Generate(visualize.BuildGraph(ex, g)))
	return err
}

func formatChange(g computation.Grammar, epoch uint64, entry dbsp.DocumentEntry) string {
	sign := "+"
	if entry.Multiplicity < 0 {
		sign = "-"
	}
	doc := entry.Document
	what := util.Stringify(doc)
	if coll, ok := doc["collection"].(string); ok {
		if rec, ok := doc["record"].(dbsp.Document); ok {
			what = formatRecord(g, coll, rec)
		}
	}
	why := fmt.Sprint(doc["query"])
	if key, ok := doc["query"].(string); ok {
		if qdoc, err := dbsp.ParseKey(key); err == nil {
			if q, err := provenance.QueryFromDocument(qdoc); err == nil {
				why = formatRecord(g, q.Collection, q.Record)
			}
		}
	}
	return fmt.Sprintf("%d %s %s %s", epoch, why, sign, what)
}

func formatRecord(g computation.Grammar, coll string, rec dbsp.Document) string {
	if v, ok := g.ByCollection(coll); ok {
		if args, err := v.Args(rec); err == nil {
			return util.Tuple(v.Name, args)
		}
	}
	return coll + util.Stringify(rec)
}

func zapLevel(level string) (zapcore.LevelEnabler, bool) {
	switch level {
	case "", "info":
		return nil, false
	case "debug":
		return zapcore.Level(-2), true
	case "error":
		return zapcore.ErrorLevel, true
	}
	n, err := strconv.Atoi(level)
	if err != nil || n < 0 {
		return nil, false
	}
	return zapcore.Level(-n), true
}
