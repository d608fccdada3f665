// Command backfill fills gaps in the prediction history. It plans the
// missing date runs per station, shows the plan, and executes it only after
// the operator confirms (or -yes is passed for unattended use).
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/saadaal/flood-forecast-pipeline/internal/adapter/modelapi"
	"github.com/saadaal/flood-forecast-pipeline/internal/backfill"
	"github.com/saadaal/flood-forecast-pipeline/internal/config"
	"github.com/saadaal/flood-forecast-pipeline/internal/domain"
	"github.com/saadaal/flood-forecast-pipeline/internal/gaps"
	"github.com/saadaal/flood-forecast-pipeline/internal/observability"
	"github.com/saadaal/flood-forecast-pipeline/internal/retry"
	"github.com/saadaal/flood-forecast-pipeline/internal/risk"
	"github.com/saadaal/flood-forecast-pipeline/internal/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	yes := flag.Bool("yes", false, "skip the confirmation prompt")
	stationsFlag := flag.String("stations", "", "comma-separated station names (default: prompt)")
	startFlag := flag.String("start", "", "start date YYYY-MM-DD (default: prompt)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		return domain.ExitPrecondition
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.DatabaseURL, logger)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		return domain.ExitPrecondition
	}
	defer st.Close() //nolint:errcheck

	stdin := bufio.NewReader(os.Stdin)

	selected, err := selectStations(ctx, st, *stationsFlag, stdin, os.Stdout)
	if err != nil {
		logger.Error("station selection failed", "error", err)
		return domain.ExitPrecondition
	}

	startDate, err := resolveStartDate(*startFlag, cfg.BackfillDefaultStart, stdin, os.Stdout)
	if err != nil {
		logger.Error("invalid start date", "error", err)
		return domain.ExitPrecondition
	}

	planner := backfill.NewPlanner(st, st, gaps.NewDetector(st, logger), cfg.ModelName, logger)
	plan, err := planner.Plan(ctx, selected, startDate)
	if err != nil {
		logger.Error("planning failed", "error", err)
		return domain.ExitPrecondition
	}

	printPlan(os.Stdout, plan)
	if plan.Empty() {
		fmt.Println("Nothing to backfill.")
		return domain.ExitSuccess
	}

	if !*yes && !confirm(stdin, os.Stdout) {
		fmt.Println("Aborted.")
		return domain.ExitSuccess
	}

	inferrer := modelapi.NewClient(cfg.ModelAPIBaseURL, cfg.ModelAPITimeout, logger)
	assessor := risk.NewAssessor(st, st, logger)
	policy := retry.New(cfg.RetryMaxAttempts, cfg.RetryInitialDelay, logger).
		WithAttemptsCounter(metrics.RetryAttempts)

	scheduler := backfill.NewScheduler(inferrer, st, assessor, policy, cfg.HorizonDays, logger, metrics)
	result, err := scheduler.Execute(ctx, plan)
	if err != nil {
		logger.Error("backfill aborted", "error", err)
		return domain.ExitTotalFailure
	}

	code := result.ExitCode()
	fmt.Printf("Backfill finished: %d filled, %d failed, %d skipped (exit %d)\n",
		result.Succeeded, result.Failed, result.Skipped, code)
	return code
}

// selectStations resolves the station selection, prompting when the flag is
// empty. The prompt accepts numbers from the printed list, names, or "all".
func selectStations(ctx context.Context, st *store.Store, flagValue string, in *bufio.Reader, out io.Writer) ([]string, error) {
	if flagValue != "" {
		return splitTokens(flagValue), nil
	}

	stations, err := st.ListLocations(ctx)
	if err != nil {
		return nil, err
	}
	if len(stations) == 0 {
		return nil, errors.New("no stations configured")
	}

	fmt.Fprintln(out, "Available stations:")
	for i, s := range stations {
		marker := ""
		if !s.Supported() {
			marker = " (no trained model)"
		}
		fmt.Fprintf(out, "  %d. %s%s\n", i+1, s.Name, marker)
	}
	fmt.Fprint(out, "Select stations (numbers or names, empty or 'all' for all): ")

	line, err := in.ReadString('\n')
	if err != nil && err != io.EOF {
		return nil, err
	}
	line = strings.TrimSpace(line)
	if line == "" || strings.EqualFold(line, "all") {
		return nil, nil // planner treats nil as every station
	}

	var selected []string
	for _, tok := range splitTokens(line) {
		if n, err := strconv.Atoi(tok); err == nil {
			if n < 1 || n > len(stations) {
				return nil, fmt.Errorf("no station numbered %d", n)
			}
			selected = append(selected, stations[n-1].Name)
			continue
		}
		selected = append(selected, tok)
	}
	return selected, nil
}

func resolveStartDate(flagValue, fallback string, in *bufio.Reader, out io.Writer) (time.Time, error) {
	value := flagValue
	if value == "" {
		fmt.Fprintf(out, "Start date [%s]: ", fallback)
		line, err := in.ReadString('\n')
		if err != nil && err != io.EOF {
			return time.Time{}, err
		}
		value = strings.TrimSpace(line)
		if value == "" {
			value = fallback
		}
	}
	start, err := time.Parse(domain.DateFormat, value)
	if err != nil {
		return time.Time{}, err
	}
	if start.After(domain.Today()) {
		return time.Time{}, fmt.Errorf("start date %s is in the future", value)
	}
	return start, nil
}

func printPlan(out io.Writer, plan backfill.Plan) {
	fmt.Fprintf(out, "\nBackfill plan %s to %s:\n",
		plan.StartDate.Format(domain.DateFormat), plan.EndDate.Format(domain.DateFormat))
	for _, lp := range plan.Locations {
		last := "none"
		if lp.HasPredictions {
			last = lp.LastPrediction.Format(domain.DateFormat)
		}
		fmt.Fprintf(out, "  %-20s last prediction: %-10s missing: %d days\n",
			lp.Location, last, lp.MissingDays())
		for _, g := range lp.Gaps {
			fmt.Fprintf(out, "    %s\n", g)
		}
	}
	for _, name := range plan.Unsupported {
		fmt.Fprintf(out, "  %-20s skipped: no trained model\n", name)
	}
	fmt.Fprintf(out, "Total: %d missing days across %d stations\n\n",
		plan.TotalMissingDays(), len(plan.Locations))
}

func confirm(in *bufio.Reader, out io.Writer) bool {
	fmt.Fprint(out, "Proceed? [y/N]: ")
	line, err := in.ReadString('\n')
	if err != nil && err != io.EOF {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func splitTokens(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
