// courtedge runs the daily value-betting pipeline: merge the latest model
// and market snapshots, evaluate strategies into the ledger, settle pending
// bets against results. Intended to be invoked once per day by an external
// scheduler; every invocation is safe to repeat.
package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/phenomenon0/courtedge/config"
	"github.com/phenomenon0/courtedge/core"
	"github.com/phenomenon0/courtedge/pkg/artifact"
	"github.com/phenomenon0/courtedge/pkg/ledger"
	"github.com/phenomenon0/courtedge/pkg/match"
	"github.com/phenomenon0/courtedge/pkg/metrics"
	"github.com/phenomenon0/courtedge/pkg/pipeline"
	"github.com/phenomenon0/courtedge/pkg/settle"
	"github.com/phenomenon0/courtedge/pkg/strategy"
)

var (
	configPath = flag.String("config", "", "Path to YAML config (optional)")
	runDate    = flag.String("date", "", "Run date as YYYY-MM-DD (default today)")
	stage      = flag.String("stage", "all", "Stage to run: process|strategies|settle|all")
	httpAddr   = flag.String("http", "", "Serve /metrics on this address during the run (optional)")
)

func main() {
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Println("Starting courtedge pipeline")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	date := time.Now().UTC().Truncate(24 * time.Hour)
	if *runDate != "" {
		date, err = time.Parse(core.DateFormat, *runDate)
		if err != nil {
			log.Fatalf("Invalid -date %q: %v", *runDate, err)
		}
	}

	process, strategies, settlement, err := stages(*stage)
	if err != nil {
		log.Fatal(err)
	}

	store, err := artifact.NewStore(cfg.DataDir)
	if err != nil {
		log.Fatalf("Failed to open artifact store: %v", err)
	}

	ledgerStore, closeLedger, err := openLedger(cfg)
	if err != nil {
		log.Fatalf("Failed to open ledger store: %v", err)
	}
	defer closeLedger()

	matcher := match.New(cfg.MatcherConfig())
	strategyEngine, err := strategy.NewEngine(cfg.Strategies)
	if err != nil {
		log.Fatalf("Invalid strategy config: %v", err)
	}
	settleEngine := settle.NewEngine(matcher, cfg.Settlement.GraceDays)
	m := metrics.NewPipelineMetrics()

	if *httpAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(*httpAddr, mux); err != nil {
				log.Printf("metrics server: %v", err)
			}
		}()
	}

	p := pipeline.New(store, ledgerStore, matcher, strategyEngine, settleEngine, m)
	p.OnStageComplete(func(result pipeline.StageResult) {
		log.Printf("[%s] %s (%.2fms)", result.Stage, statusStr(result.Success),
			float64(result.Duration.Microseconds())/1000)
		if result.Error != "" {
			log.Printf("  Error: %s", result.Error)
		}
	})

	report, err := p.Run(date, process, strategies, settlement)
	if err != nil {
		log.Fatalf("Run failed: %v", err)
	}

	printReport(report)
	log.Printf("Run %s complete: ledger at %d entries", report.RunID, report.LedgerSize)
}

func stages(name string) (process, strategies, settlement bool, err error) {
	switch name {
	case "all":
		return true, true, true, nil
	case "process":
		return true, false, false, nil
	case "strategies":
		return false, true, false, nil
	case "settle":
		return false, false, true, nil
	default:
		return false, false, false, fmt.Errorf("unknown -stage %q", name)
	}
}

func openLedger(cfg *config.Config) (ledger.Store, func(), error) {
	switch cfg.Ledger.Backend {
	case "csv":
		return ledger.NewCSVStore(cfg.Ledger.Path), func() {}, nil
	case "sqlite":
		s, err := ledger.NewSQLiteStore(cfg.Ledger.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown ledger backend %q", cfg.Ledger.Backend)
	}
}

// printReport renders the daily summary table to stdout for the run log.
func printReport(report *pipeline.Report) {
	if len(report.Summary) == 0 {
		fmt.Println("No settled bets yet.")
		return
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Date", "Strategy", "Settled", "Daily P&L", "Cumulative P&L")
	for _, row := range report.Summary {
		table.Append(
			row.Date,
			row.Strategy,
			fmt.Sprintf("%d", row.Settled),
			row.DailyPnL.StringFixed(4),
			row.CumPnL.StringFixed(4),
		)
	}
	table.Render()
}

func statusStr(ok bool) string {
	if ok {
		return "OK"
	}
	return "FAILED"
}
