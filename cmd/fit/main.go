// Command fit runs one Bayesian linear regression by mean-field variational
// inference on the toy data set (or a CSV of y,x rows) and prints the
// posterior.
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/okian/mfvi/internal/config"
	"github.com/okian/mfvi/internal/domain/fitting"
	"github.com/okian/mfvi/internal/domain/model"
	"github.com/okian/mfvi/pkg/logger"
)

type options struct {
	nIter      int
	nMinibatch int
	nPrint     int
	nData      int
	seed       uint64
	estimator  string
	dataPath   string
	jsonOut    bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		os.Stderr.WriteString("fit: " + err.Error() + "\n")
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}

	var o options
	fs := flag.NewFlagSet("fit", flag.ContinueOnError)
	fs.IntVar(&o.nIter, "n-iter", cfg.NIter, "number of optimisation steps")
	fs.IntVar(&o.nMinibatch, "n-minibatch", cfg.NMinibatch, "latent samples per step")
	fs.IntVar(&o.nPrint, "n-print", cfg.NPrint, "report progress every n steps")
	fs.IntVar(&o.nData, "n-data", cfg.NData, "data rows per step (0 = all)")
	fs.Uint64Var(&o.seed, "seed", cfg.Seed, "inference seed")
	fs.StringVar(&o.estimator, "estimator", cfg.Estimator, "gradient estimator: reparam or score")
	fs.StringVar(&o.dataPath, "data", "", "CSV file of y,x rows (default: toy data)")
	fs.BoolVar(&o.jsonOut, "json", false, "print the result as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := logger.Init(logger.WithWriter(os.Stderr), logger.WithFormat(cfg.LogFormat)); err != nil {
		return err
	}
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		return err
	}
	log := logger.Get().Named("fit")

	req := model.FitRequest{
		NIter:      o.nIter,
		NMinibatch: o.nMinibatch,
		NPrint:     o.nPrint,
		NData:      o.nData,
		Seed:       o.seed,
		Estimator:  o.estimator,
	}
	if o.dataPath != "" {
		if req.Points, err = readPoints(o.dataPath); err != nil {
			return err
		}
	}

	runner := fitting.NewRunner(cfg.FitDefaults(), fitting.WithLogger(log))
	out, err := runner.Run(ctx, req, nil)
	if err != nil {
		return err
	}
	return report(stdout, out, o.jsonOut)
}

// readPoints parses a headerless CSV of y,x rows.
func readPoints(path string) ([][2]float64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open data: %w", err)
	}
	defer func() { _ = f.Close() }()

	r := csv.NewReader(f)
	r.FieldsPerRecord = 2
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read data: %w", err)
	}

	points := make([][2]float64, len(records))
	for i, rec := range records {
		for j := range 2 {
			v, err := strconv.ParseFloat(rec[j], 64)
			if err != nil {
				return nil, fmt.Errorf("data row %d: %w", i+1, err)
			}
			points[i][j] = v
		}
	}
	return points, nil
}

func report(w io.Writer, out fitting.Outcome, asJSON bool) error {
	res := out.Result
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Mean       []float64 `json:"mean"`
			StdDev     []float64 `json:"stddev"`
			ExactMean  []float64 `json:"exact_mean,omitempty"`
			FinalLoss  float64   `json:"final_loss"`
			Iterations int       `json:"iterations"`
		}{res.Posterior.Mean, res.Posterior.StdDev, out.ExactMean, res.FinalLoss, res.Iterations})
	}

	names := []string{"w", "b"}
	fmt.Fprintf(w, "iterations: %d  final loss: %.4f\n", res.Iterations, res.FinalLoss)
	for i, name := range names {
		fmt.Fprintf(w, "%s: mean %+.4f  sd %.4f", name, res.Posterior.Mean[i], res.Posterior.StdDev[i])
		if len(out.ExactMean) == len(names) {
			fmt.Fprintf(w, "  (exact %+.4f)", out.ExactMean[i])
		}
		fmt.Fprintln(w)
	}
	return nil
}
