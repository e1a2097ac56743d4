package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cuongbtq/script-studio/internal/config"
	"github.com/cuongbtq/script-studio/internal/job/backend"
	"github.com/cuongbtq/script-studio/internal/job/domain"
	"github.com/cuongbtq/script-studio/internal/job/poller"
	"github.com/cuongbtq/script-studio/shared/logger"
	"github.com/joho/godotenv"
)

const (
	exitFailure        = 1
	exitConnectionLost = 2
	exitCanceled       = 130

	envGeminiAPIKey = "GEMINI_API_KEY"
	envApifyAPIKey  = "APIFY_API_KEY"
)

// exitError carries the process exit code for a failed run
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

func main() {
	if err := run(); err != nil {
		code := exitFailure
		var ee *exitError
		if errors.As(err, &ee) {
			code = ee.code
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(code)
	}
}

type options struct {
	configPath string
	handle     string
	topic      string
	out        string
	announce   bool
	// announceSet is true when -announce was given explicitly
	announceSet bool
}

func parseFlags() options {
	defaultConfigPath := os.Getenv("SCRIPTGEN_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/scriptgen.yaml"
	}

	var opts options
	flag.StringVar(&opts.configPath, "config", defaultConfigPath, "Path to configuration file")
	flag.StringVar(&opts.handle, "handle", "", "Creator handle or profile URL, e.g. @creator")
	flag.StringVar(&opts.topic, "topic", "", "Topic of the script")
	flag.StringVar(&opts.out, "out", "", "Write the script to this file instead of stdout")
	flag.BoolVar(&opts.announce, "announce", false, "Print a starting line before the first poll")
	flag.Parse()

	flag.Visit(func(f *flag.Flag) {
		if f.Name == "announce" {
			opts.announceSet = true
		}
	})
	return opts
}

func run() error {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	opts := parseFlags()

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if opts.announceSet {
		cfg.Poller.AnnounceStart = opts.announce
	}

	if err := cfg.ValidateCLIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	req, err := domain.NewJobRequest(opts.handle, opts.topic, domain.Credentials{
		Gemini: os.Getenv(envGeminiAPIKey),
		Apify:  os.Getenv(envApifyAPIKey),
	})
	if err != nil {
		return describeValidation(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := backend.NewClient(&backend.Config{
		BaseURL: cfg.Backend.BaseURL,
		Timeout: cfg.Backend.RequestTimeout,
		Logger:  appLogger.Logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize backend client: %w", err)
	}

	handle, err := client.Submit(ctx, req)
	if err != nil {
		return err
	}
	appLogger.Info("Job accepted", slog.String("job_id", handle.ID))

	sessions, err := poller.New(poller.Config{
		Fetcher: client,
		Policy: poller.Policy{
			Interval:             cfg.Poller.Interval,
			RetryDelay:           cfg.Poller.RetryDelay,
			MaxTransientFailures: cfg.Poller.MaxTransientFailures,
		},
		Logger:        appLogger.Logger,
		AnnounceStart: cfg.Poller.AnnounceStart,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize poller: %w", err)
	}

	renderer := newProgressRenderer(os.Stderr)
	outcomes := make(chan domain.Outcome, 1)

	session, err := sessions.Start(handle, renderer.Render, func(o domain.Outcome) {
		outcomes <- o
	})
	if err != nil {
		return fmt.Errorf("failed to start polling: %w", err)
	}

	var outcome domain.Outcome
	select {
	case outcome = <-outcomes:
	case <-ctx.Done():
		session.Cancel()
		outcome = <-outcomes
	}

	return finish(outcome, opts.out)
}

// loadConfig reads path, falling back to built-in defaults when the file
// does not exist
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	cfg = &config.Config{
		Logging: config.LoggingConfig{Level: "warn", Format: "console", Output: "stderr"},
	}
	cfg.ApplyEnv()
	cfg.ApplyDefaults()
	return cfg, nil
}

func finish(outcome domain.Outcome, outPath string) error {
	switch outcome.Kind {
	case domain.OutcomeSucceeded:
		fmt.Fprintln(os.Stderr, formatProgress(domain.ProgressFor(domain.StateSuccess)))
		return writeScript(outcome.Script, outPath)
	case domain.OutcomeConnectionLost:
		return &exitError{code: exitConnectionLost, err: outcome.Err}
	case domain.OutcomeCanceled:
		return &exitError{code: exitCanceled, err: outcome.Err}
	default:
		return &exitError{code: exitFailure, err: outcome.Err}
	}
}

func writeScript(script, outPath string) error {
	if outPath == "" {
		_, err := fmt.Fprintln(os.Stdout, script)
		return err
	}
	if err := os.WriteFile(outPath, []byte(script+"\n"), 0o644); err != nil {
		return fmt.Errorf("failed to write script: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Script written to %s\n", outPath)
	return nil
}

func describeValidation(err error) error {
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		return err
	}

	hints := make([]string, 0, len(verr.Fields))
	for _, f := range verr.Fields {
		switch f {
		case "profile_name":
			hints = append(hints, "-handle is required")
		case "topic":
			hints = append(hints, "-topic is required")
		case "gemini_api_key":
			hints = append(hints, envGeminiAPIKey+" is not set")
		case "apify_api_key":
			hints = append(hints, envApifyAPIKey+" is not set")
		default:
			hints = append(hints, f+" is required")
		}
	}
	return &exitError{code: exitFailure, err: fmt.Errorf("%w: %s", err, strings.Join(hints, "; "))}
}

func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.Kitchen,
	})
}
