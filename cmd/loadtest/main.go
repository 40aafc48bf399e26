// Command loadtest нагружает HTTP API магазина: просмотр каталога, гостевую
// корзину или полное оформление заказа.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

type loadMode string

const (
	modeBrowse   loadMode = "browse"
	modeCart     loadMode = "cart"
	modeCheckout loadMode = "checkout"
)

type config struct {
	baseURL     string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	mode        loadMode
	productID   string
	quantity    int
	tokens      []string
	outputPath  string
}

func parseConfig(fs *flag.FlagSet, args []string, getenv func(string) string) (config, error) {
	var (
		cfg       config
		modeValue string
		tokensRaw string
	)

	fs.StringVar(&cfg.baseURL, "url", "http://localhost:8080", "storefront API base URL")
	fs.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	fs.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration (e.g. 10m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	fs.StringVar(&modeValue, "mode", string(modeBrowse), "load mode: browse | cart | checkout")
	fs.StringVar(&cfg.productID, "product", "", "product id for cart and checkout modes")
	fs.IntVar(&cfg.quantity, "quantity", 1, "quantity added to the cart per scenario")
	fs.StringVar(&tokensRaw, "tokens", getenv("STOREFRONT_LOADTEST_TOKENS"), "session tokens for checkout mode, comma-separated")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})
	for _, token := range strings.Split(tokensRaw, ",") {
		if token = strings.TrimSpace(token); token != "" {
			cfg.tokens = append(cfg.tokens, token)
		}
	}

	mode, err := parseMode(modeValue)
	if err != nil {
		return config{}, err
	}
	cfg.mode = mode

	if u, err := url.Parse(cfg.baseURL); err != nil || u.Scheme == "" || u.Host == "" {
		return config{}, fmt.Errorf("invalid url: %q", cfg.baseURL)
	}
	if cfg.duration < 0 {
		return config{}, errors.New("duration must be >= 0")
	}
	if cfg.duration == 0 && cfg.total <= 0 {
		return config{}, errors.New("total must be > 0 when duration is not set")
	}
	if cfg.duration > 0 && cfg.totalSet && cfg.total <= 0 {
		return config{}, errors.New("total must be > 0 when explicitly set with duration")
	}
	if cfg.concurrency <= 0 {
		return config{}, errors.New("concurrency must be > 0")
	}
	if cfg.timeout <= 0 {
		return config{}, errors.New("timeout must be > 0")
	}
	if cfg.mode != modeBrowse {
		if strings.TrimSpace(cfg.productID) == "" {
			return config{}, errors.New("product is required for cart and checkout modes")
		}
		if cfg.quantity <= 0 {
			return config{}, errors.New("quantity must be > 0")
		}
	}
	if cfg.mode == modeCheckout && len(cfg.tokens) == 0 {
		return config{}, errors.New("tokens are required for checkout mode")
	}
	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch mode := loadMode(strings.TrimSpace(value)); mode {
	case modeBrowse, modeCart, modeCheckout:
		return mode, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

// runLoad гоняет сценарии пулом воркеров и возвращает сводный отчёт.
func runLoad(cfg config) report {
	startedAt := time.Now()
	runner := &scenarioRunner{
		client: newAPIClient(cfg.baseURL, cfg.timeout, cfg.concurrency),
		cfg:    cfg,
		runID:  fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid()),
		col:    newCollector(),
	}

	jobs := make(chan int, cfg.concurrency*2)
	var wg sync.WaitGroup
	for range cfg.concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for id := range jobs {
				_ = runner.run(id)
			}
		}()
	}

	dispatchJobs(jobs, cfg)
	wg.Wait()

	return runner.col.buildReport(startedAt, time.Since(startedAt))
}

func dispatchJobs(jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration <= 0 {
		for i := 0; i < cfg.total; i++ {
			jobs <- i
		}
		return
	}

	timer := time.NewTimer(cfg.duration)
	defer timer.Stop()

	for i := 0; ; i++ {
		if cfg.totalSet && i >= cfg.total {
			return
		}

		select {
		case <-timer.C:
			return
		case jobs <- i:
		}
	}
}

func run(cfg config, out io.Writer) error {
	result := runLoad(cfg)
	printReport(out, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}
	if result.FailedScenarios > 0 {
		return fmt.Errorf("%d of %d scenarios failed", result.FailedScenarios, result.TotalScenarios)
	}
	return nil
}

func main() {
	cfg, err := parseConfig(flag.CommandLine, os.Args[1:], os.Getenv)
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}
	if err := run(cfg, os.Stdout); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
