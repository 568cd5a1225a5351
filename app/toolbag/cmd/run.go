package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cchalm/toolbag/internal/ai"
	"github.com/cchalm/toolbag/internal/telemetry"
	"github.com/cchalm/toolbag/internal/tools"
)

var runFlags struct {
	model            string
	maxTokens        int64
	temperature      float64
	maxIterations    int
	systemPromptFile string
	conversationsDir string
	session          string
	transcript       string
	quiet            bool
}

var runCmd = &cobra.Command{
	Use:   "run [task]",
	Short: "Drive the model through a task using the file tools",
	Long: `Sends the task to the model along with a listing of the working directory and lets it call
tools until it finishes. With --conversations-dir set, an interrupted run can be resumed by
running again with the same --session.`,
	Example: `  toolbag run --root ./work "Write a python function that fetches the html for a given url"
  toolbag run --conversations-dir ~/.toolbag --session fetcher "Add tests for the fetcher"`,
	RunE: runRun,
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runFlags.model, "model", "", "Model to use")
	f.Int64Var(&runFlags.maxTokens, "max-tokens", 0, "Maximum output tokens per response")
	f.Float64Var(&runFlags.temperature, "temperature", 0, "Sampling temperature")
	f.IntVar(&runFlags.maxIterations, "max-iterations", 0, "Maximum rounds of tool calls")
	f.StringVar(&runFlags.systemPromptFile, "system-prompt-file", "", "File holding the system prompt")
	f.StringVar(&runFlags.conversationsDir, "conversations-dir", "", "Directory where in-flight conversations are kept for resuming")
	f.StringVar(&runFlags.session, "session", "", "Session ID; a stored conversation with this ID is resumed")
	f.StringVar(&runFlags.transcript, "transcript", "", "Write a markdown transcript of the conversation to this file")
	f.BoolVarP(&runFlags.quiet, "quiet", "q", false, "Do not stream the model's text to stdout")

	rootCmd.AddCommand(runCmd)
}

// applyRunFlags overlays the run flags that were set on the command line
func applyRunFlags(cmd *cobra.Command) {
	flags := cmd.Flags()
	if flags.Changed("model") {
		cfg.AI.Model = runFlags.model
	}
	if flags.Changed("max-tokens") {
		cfg.AI.MaxTokens = runFlags.maxTokens
	}
	if flags.Changed("temperature") {
		cfg.AI.Temperature = runFlags.temperature
	}
	if flags.Changed("max-iterations") {
		cfg.AI.MaxIterations = runFlags.maxIterations
	}
	if flags.Changed("system-prompt-file") {
		cfg.AI.SystemPromptFile = runFlags.systemPromptFile
	}
	if flags.Changed("conversations-dir") {
		cfg.AI.ConversationsDir = runFlags.conversationsDir
	}
}

func runRun(cmd *cobra.Command, args []string) error {
	task := strings.TrimSpace(strings.Join(args, " "))
	if task == "" && runFlags.session == "" {
		return fmt.Errorf("a task is required unless resuming a --session")
	}
	if err := cfg.ValidateRun(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx := setupContext()

	toolCtx, err := createToolContext()
	if err != nil {
		return err
	}
	systemPrompt, err := ai.LoadSystemPrompt(cfg.AI.SystemPromptFile)
	if err != nil {
		return err
	}
	provider, err := createTelemetryProvider(ctx)
	if err != nil {
		return fmt.Errorf("failed to set up telemetry: %w", err)
	}
	defer shutdownTelemetry(provider)

	registry := tools.NewToolRegistry(logger)
	registry.Use(tools.NewLoggingHook(logger), provider.ToolHook())

	out := cmd.OutOrStdout()
	var onText func(string)
	if !runFlags.quiet {
		onText = func(text string) { fmt.Fprint(out, text) }
	}
	sender := ai.NewStreamingMessageSender(createAnthropicClient(cfg.AnthropicAPIKey), onText, logger)

	opts := []ai.DriverOption{
		ai.WithLogger(logger),
		ai.WithTelemetry(provider),
		ai.WithResponseHandler(func(response *anthropic.Message) {
			if !runFlags.quiet {
				fmt.Fprintln(out)
			}
		}),
	}
	if cfg.AI.ConversationsDir != "" {
		opts = append(opts, ai.WithHistoryStore(ai.NewFileSystemConversationHistoryStore(cfg.AI.ConversationsDir)))
	}

	driver := ai.NewDriver(sender, registry, toolCtx, ai.ConversationConfig{
		Model:           anthropic.Model(cfg.AI.Model),
		MaxOutputTokens: cfg.AI.MaxTokens,
		Temperature:     cfg.AI.Temperature,
		TokenLimit:      cfg.AI.TokenLimit,
		SystemPrompt:    systemPrompt,
	}, cfg.AI.MaxIterations, opts...)

	sessionID := runFlags.session
	if sessionID == "" {
		sessionID = telemetry.NewConversationID()
	}
	logger.Info("starting run",
		zap.String("session", sessionID),
		zap.String("root", toolCtx.Toolset.Root()),
		zap.String("model", cfg.AI.Model),
	)

	result, runErr := driver.Run(ctx, sessionID, task)
	if runFlags.transcript != "" && result != nil && result.Conversation != nil {
		if err := writeTranscript(runFlags.transcript, result.Conversation); err != nil {
			logger.Error("failed to write transcript", zap.Error(err))
		}
	}
	if runErr != nil {
		return fmt.Errorf("run failed (session %s): %w", sessionID, runErr)
	}

	fmt.Fprintf(out, "\nResponse required %s\n", ai.FormatDuration(result.Elapsed))
	fmt.Fprintf(out, "Tokens: %d in, %d out, %d cache read, %d cache write\n",
		result.Usage.InputTokens, result.Usage.OutputTokens, result.Usage.CacheReadTokens, result.Usage.CacheCreationTokens)
	return nil
}

func writeTranscript(path string, conversation *ai.Conversation) error {
	md, err := conversation.ToMarkdown()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, []byte(md), 0o644); err != nil {
		return fmt.Errorf("failed to write transcript: %w", err)
	}
	return nil
}
