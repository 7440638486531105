// ABOUTME: Operator subcommands: status, heartbeat, schedule, tokens, health and init
// ABOUTME: heartbeat and schedule call the server's trigger endpoint over HTTP with go-resty

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/go-resty/resty/v2"
	"github.com/robfig/cron/v3"

	"github.com/2389/tms-core/internal/config"
	"github.com/2389/tms-core/internal/enhanced"
	"github.com/2389/tms-core/internal/server"
	"github.com/2389/tms-core/internal/trigger"
)

// errDisconnected makes the heartbeat command exit non-zero.
var errDisconnected = errors.New("enhanced service disconnected")

// errTriggerRejected means the server refused the cron secret.
var errTriggerRejected = errors.New("heartbeat trigger rejected the cron secret")

func newHTTPClient(timeout time.Duration) *resty.Client {
	return resty.New().
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")
}

// postTrigger POSTs the heartbeat trigger once.
func postTrigger(ctx context.Context, client *resty.Client, url, secret string) (*trigger.Result, error) {
	var res trigger.Result
	req := client.R().SetContext(ctx).SetResult(&res)
	if secret != "" {
		req.SetHeader(server.HeaderCronSecret, secret)
	}

	resp, err := req.Post(url)
	if err != nil {
		return nil, fmt.Errorf("calling heartbeat trigger: %w", err)
	}
	if resp.StatusCode() == http.StatusUnauthorized {
		return nil, errTriggerRejected
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("heartbeat trigger: HTTP %d", resp.StatusCode())
	}
	return &res, nil
}

func formatLastSuccess(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return fmt.Sprintf("%s (%s ago)", t.Local().Format(time.RFC3339), time.Since(*t).Round(time.Second))
}

func runStatus(ctx context.Context) error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	defer closer.Close()

	kv, err := server.OpenStore(cfg)
	if err != nil {
		return err
	}
	defer kv.Close()

	client, ledger := server.NewClient(cfg, kv, logger)
	ctx = enhanced.WithScope(ctx)

	status, err := client.Status(ctx)
	if err != nil {
		return err
	}
	last, err := ledger.LastSuccess(ctx)
	if err != nil {
		return err
	}
	instanceID, err := enhanced.NewIdentity(kv, cfg.Enhanced.InstanceID).Resolve(ctx)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	fmt.Printf("Instance:       %s\n", instanceID)
	fmt.Printf("Connection:     ")
	switch {
	case status.Connected:
		green.Println("connected")
	case status.Reason == enhanced.ReasonNotConfigured:
		yellow.Println("not configured")
	default:
		red.Println(string(status.Reason))
	}
	fmt.Printf("License:        %s\n", status.LicenseStatus)
	if status.ExpiresAt != nil {
		fmt.Printf("Expires:        %s\n", status.ExpiresAt.Local().Format("Jan 02, 2006"))
	}
	fmt.Printf("Last heartbeat: %s\n", formatLastSuccess(last))
	return nil
}

func runHeartbeat(ctx context.Context) error {
	cfg, _, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	defer closer.Close()

	// Leave room for the server's own outbound timeout.
	client := newHTTPClient(cfg.Enhanced.Timeout + 5*time.Second)
	res, err := postTrigger(ctx, client, cfg.TriggerURL(), cfg.Cron.Secret)
	if err != nil {
		return err
	}

	fmt.Printf("Connected:      %t\n", res.Connected)
	fmt.Printf("Last heartbeat: %s\n", formatLastSuccess(res.LastSuccessfulHeartbeatAt))
	if !res.Connected {
		return errDisconnected
	}
	return nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}

// newScheduler registers one job that POSTs the trigger on schedule.
// Overlapping runs are skipped.
func newScheduler(cfg *config.Config, client *resty.Client, logger *slog.Logger) (*cron.Cron, error) {
	cl := cronLogger{logger: logger}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))

	url := cfg.TriggerURL()
	_, err := c.AddFunc(cfg.Cron.Schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), client.GetClient().Timeout)
		defer cancel()

		res, err := postTrigger(ctx, client, url, cfg.Cron.Secret)
		switch {
		case err != nil:
			logger.Warn("heartbeat trigger failed", "url", url, "error", err)
		case res.Connected:
			logger.Info("heartbeat ok", "last_success", formatLastSuccess(res.LastSuccessfulHeartbeatAt))
		default:
			logger.Warn("heartbeat disconnected", "last_success", formatLastSuccess(res.LastSuccessfulHeartbeatAt))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("scheduling %q: %w", cfg.Cron.Schedule, err)
	}
	return c, nil
}

func runSchedule(ctx context.Context) error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	defer closer.Close()
	logger = logger.With("component", "scheduler")

	c, err := newScheduler(cfg, newHTTPClient(cfg.Enhanced.Timeout+5*time.Second), logger)
	if err != nil {
		return err
	}

	logger.Info("scheduler started", "schedule", cfg.Cron.Schedule, "trigger_url", cfg.TriggerURL())
	c.Start()

	<-ctx.Done()
	logger.Info("scheduler stopping")
	<-c.Stop().Done()
	return nil
}

func runTokens(ctx context.Context, args []string) error {
	if len(args) != 1 || args[0] != "clear-previous" {
		return fmt.Errorf("usage: tms-core tokens clear-previous")
	}

	cfg, _, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	defer closer.Close()

	kv, err := server.OpenStore(cfg)
	if err != nil {
		return err
	}
	defer kv.Close()

	if err := enhanced.NewTokenStore(kv).ClearPrevious(ctx); err != nil {
		return err
	}
	color.New(color.FgGreen).Println("previous session token cleared")
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	resp, err := newHTTPClient(10 * time.Second).R().SetContext(ctx).Get(cfg.ServiceBaseURL() + "/health")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode())
	}

	fmt.Println("healthy")
	return nil
}

func randomSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("tms-core configuration setup")
	fmt.Println("============================")
	fmt.Println()

	outputFile := prompt(reader, "Config file path", config.DefaultPath())
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := strings.ToLower(prompt(reader, "File exists. Overwrite?", "no"))
		if overwrite != "yes" && overwrite != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	dataDir := filepath.Join(filepath.Dir(filepath.Dir(outputFile)), "tms")
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, ".local", "share", "tms")
	}

	fmt.Println("\n--- Server ---")
	httpAddr := prompt(reader, "HTTP address", config.DefaultHTTPAddr)
	dbPath := prompt(reader, "SQLite database path", filepath.Join(dataDir, "core.db"))

	fmt.Println("\n--- Enhanced service (leave URL empty to disable) ---")
	enhancedURL := prompt(reader, "Enhanced service URL", "")
	var enhancedSecret string
	if enhancedURL != "" {
		enhancedSecret = prompt(reader, "Shared secret (x-core-secret)", "")
	}

	fmt.Println("\n--- Scheduler ---")
	schedule := prompt(reader, "Heartbeat schedule", config.DefaultCronSchedule)
	cronSecret, err := randomSecret()
	if err != nil {
		return fmt.Errorf("generating cron secret: %w", err)
	}

	var cfg strings.Builder
	cfg.WriteString("# tms-core configuration\n")
	cfg.WriteString("# Generated by tms-core init\n\n")
	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: %q\n\n", httpAddr))
	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: %q\n\n", dbPath))
	cfg.WriteString("auth:\n")
	cfg.WriteString("  jwt_secret: \"${TMS_JWT_SECRET}\"\n\n")
	cfg.WriteString("enhanced:\n")
	cfg.WriteString(fmt.Sprintf("  url: %q\n", enhancedURL))
	cfg.WriteString(fmt.Sprintf("  secret: %q\n", enhancedSecret))
	cfg.WriteString("  timeout: \"10s\"\n\n")
	cfg.WriteString("cron:\n")
	cfg.WriteString(fmt.Sprintf("  secret: %q\n", cronSecret))
	cfg.WriteString(fmt.Sprintf("  schedule: %q\n\n", schedule))
	cfg.WriteString("logging:\n")
	cfg.WriteString("  level: \"info\"\n")
	cfg.WriteString("  format: \"text\"\n")

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	// The file holds secrets.
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nTo start the server and the scheduler:")
	fmt.Println("  tms-core serve")
	fmt.Println("  tms-core schedule")
	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
