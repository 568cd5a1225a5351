package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/go-github/v72/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/cchalm/toolbag/internal/fetch"
	"github.com/cchalm/toolbag/internal/telemetry"
	"github.com/cchalm/toolbag/internal/tools"
	"github.com/cchalm/toolbag/internal/toolset"
	"github.com/cchalm/toolbag/internal/transport"
)

func setupContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	go func() {
		<-interrupt
		logger.Info("interrupt signal detected, shutting down gracefully...")
		cancel()
		<-interrupt
		logger.Fatal("forcing shutdown")
	}()

	return ctx
}

// createGithubClient returns an authenticated client, or an anonymous one if token is empty
func createGithubClient(ctx context.Context, token string) *github.Client {
	if token == "" {
		return github.NewClient(&http.Client{Transport: transport.WithRateLimiting(nil, logger)})
	}
	tokenSource := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	httpClient := oauth2.NewClient(ctx, tokenSource)
	return github.NewClient(httpClient)
}

func createAnthropicClient(apiKey string) anthropic.Client {
	rateLimitedHTTPClient := &http.Client{
		Transport: transport.WithRateLimiting(nil, logger),
	}
	return anthropic.NewClient(
		option.WithHTTPClient(rateLimitedHTTPClient),
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(5),
	)
}

func createTelemetryProvider(ctx context.Context) (*telemetry.Provider, error) {
	telemetryConfig := telemetry.TelemetryConfig{
		Enabled:        cfg.Telemetry.Enabled,
		Endpoint:       cfg.Telemetry.Endpoint,
		ServiceVersion: versionInfo.Version,
	}
	return telemetry.NewProvider(ctx, telemetryConfig, logger)
}

func shutdownTelemetry(provider *telemetry.Provider) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := provider.Shutdown(ctx); err != nil {
		logger.Warn("failed to flush telemetry", zap.Error(err))
	}
}

func createToolset() (*toolset.Toolset, error) {
	return toolset.New(cfg.Root, toolset.WithExcludedNames(cfg.ExcludedNames...))
}

func createFetcher() *fetch.Fetcher {
	client := &http.Client{Transport: transport.WithRateLimiting(nil, logger)}
	return fetch.New(client,
		fetch.WithTimeout(time.Duration(cfg.Fetch.TimeoutSeconds)*time.Second),
		fetch.WithMaxBytes(cfg.Fetch.MaxBytes),
		fetch.WithLogger(logger),
	)
}

// createToolContext builds what the tools need to run against the configured working directory
func createToolContext() (*tools.ToolContext, error) {
	ts, err := createToolset()
	if err != nil {
		return nil, err
	}
	return &tools.ToolContext{Toolset: ts, Fetcher: createFetcher()}, nil
}
