//go:build e2e

package testutil

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/cchalm/toolbag/internal/ai"
	"github.com/cchalm/toolbag/internal/tools"
	"github.com/cchalm/toolbag/internal/toolset"
)

// TestConfig holds configuration for end-to-end tests
type TestConfig struct {
	Model         anthropic.Model
	MaxTokens     int64
	MaxIterations int
	Iterations    int
	Timeout       time.Duration
	AnthropicKey  string
}

// LoadTestConfig loads test configuration from environment variables
func LoadTestConfig() TestConfig {
	config := TestConfig{
		Model:         anthropic.ModelClaudeSonnet4_0,
		MaxTokens:     4000,
		MaxIterations: 20,
		Iterations:    3,
		Timeout:       300 * time.Second,
	}

	if model := os.Getenv("E2E_MODEL"); model != "" {
		config.Model = anthropic.Model(model)
	}
	if tokens := os.Getenv("E2E_MAX_TOKENS"); tokens != "" {
		if val, err := strconv.ParseInt(tokens, 10, 64); err == nil {
			config.MaxTokens = val
		}
	}
	if iterations := os.Getenv("E2E_ITERATIONS"); iterations != "" {
		if val, err := strconv.Atoi(iterations); err == nil {
			config.Iterations = val
		}
	}
	if timeout := os.Getenv("E2E_TIMEOUT"); timeout != "" {
		if val, err := strconv.Atoi(timeout); err == nil {
			config.Timeout = time.Duration(val) * time.Second
		}
	}

	config.AnthropicKey = os.Getenv("ANTHROPIC_API_KEY")
	return config
}

// TestHarness provides utilities for end-to-end testing
type TestHarness struct {
	t               *testing.T
	config          TestConfig
	anthropicClient anthropic.Client
}

// NewTestHarness creates a new test harness
func NewTestHarness(t *testing.T) *TestHarness {
	config := LoadTestConfig()
	require.NotEmpty(t, config.AnthropicKey, "ANTHROPIC_API_KEY environment variable is required for e2e tests")

	return &TestHarness{
		t:               t,
		config:          config,
		anthropicClient: anthropic.NewClient(option.WithAPIKey(config.AnthropicKey)),
	}
}

func (h *TestHarness) Config() TestConfig {
	return h.config
}

// Workspace is a fresh working directory with a driver confined to it
type Workspace struct {
	Root   string
	Driver *ai.Driver
}

// NewWorkspace creates an empty working directory and a driver for it. configure may adjust the conversation
// settings before the driver is built
func (h *TestHarness) NewWorkspace(configure func(*ai.ConversationConfig)) *Workspace {
	h.t.Helper()
	root := h.t.TempDir()
	ts, err := toolset.New(root)
	require.NoError(h.t, err)

	systemPrompt, err := ai.LoadSystemPrompt("")
	require.NoError(h.t, err)
	config := ai.ConversationConfig{
		Model:           h.config.Model,
		MaxOutputTokens: h.config.MaxTokens,
		Temperature:     0.25,
		SystemPrompt:    systemPrompt,
	}
	if configure != nil {
		configure(&config)
	}

	logger := zaptest.NewLogger(h.t)
	registry := tools.NewToolRegistry(logger)
	registry.Use(tools.NewLoggingHook(logger))
	sender := ai.NewStreamingMessageSender(h.anthropicClient, nil, logger)
	driver := ai.NewDriver(sender, registry, &tools.ToolContext{Toolset: ts}, config, h.config.MaxIterations, ai.WithLogger(logger))
	return &Workspace{Root: root, Driver: driver}
}

// RunIterations runs a test function multiple times and requires at least two thirds of the runs to succeed
func (h *TestHarness) RunIterations(testName string, testFunc func(iteration int) error) {
	h.t.Helper()

	successCount := 0
	var lastError error

	for i := 0; i < h.config.Iterations; i++ {
		h.t.Logf("Running iteration %d/%d of %s", i+1, h.config.Iterations, testName)

		err := testFunc(i)
		if err != nil {
			h.t.Logf("Iteration %d failed: %v", i+1, err)
			lastError = err
		} else {
			successCount++
			h.t.Logf("Iteration %d succeeded", i+1)
		}
	}

	h.t.Logf("Test %s: %d/%d iterations succeeded", testName, successCount, h.config.Iterations)

	minSuccessCount := (h.config.Iterations*2 + 2) / 3
	if successCount < minSuccessCount {
		require.NoErrorf(h.t, lastError, "Test %s failed with %d/%d successes (minimum %d required)",
			testName, successCount, h.config.Iterations, minSuccessCount)
	}
}

// WithTimeout runs a function with the configured timeout
func (h *TestHarness) WithTimeout(fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	return fn(ctx)
}
