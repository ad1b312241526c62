package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/draftmill/draftmill/cli/internal/output"
	"github.com/draftmill/draftmill/pkg/cache"
	appconfig "github.com/draftmill/draftmill/pkg/config"
	"github.com/draftmill/draftmill/pkg/wordfilter"
	"github.com/draftmill/draftmill/services/gen"
	"github.com/draftmill/draftmill/services/tasks"
)

var (
	genProvider    string
	genModel       string
	genSystem      string
	genTemperature float64
	genMaxTokens   int
	genNoCache     bool
	genStream      bool
	genAsync       bool
)

var generateCmd = &cobra.Command{
	Use:   "generate [prompt]",
	Short: "Generate a completion",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runGenerate(cmd.Context(), args[0])
	},
}

func runGenerate(ctx context.Context, prompt string) error {
	_ = godotenv.Load()

	base, err := appconfig.Load(serviceName)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	mem := cache.NewMemory()
	defer mem.Close()

	svc := gen.New(gen.FileSource(base.ProvidersFile),
		gen.WithResponseStore(gen.NewMemoryResponseStore(mem)),
		gen.WithFilter(wordfilter.New(splitWords(base.SensitiveWords))),
		gen.WithRetryDelay(base.RetryBaseDelay),
	)
	defer svc.Close()

	params := gen.GenerateParams{
		Provider:    gen.ProviderID(genProvider),
		Model:       genModel,
		Temperature: genTemperature,
		MaxTokens:   genMaxTokens,
		UseCache:    !genNoCache,
	}
	if genSystem != "" {
		params.Messages = append(params.Messages, gen.Message{Role: "system", Content: genSystem})
	}
	params.Messages = append(params.Messages, gen.Message{Role: "user", Content: prompt})

	if genStream {
		return streamGenerate(ctx, svc, params)
	}
	if genAsync {
		return asyncGenerate(ctx, base, svc, params)
	}

	resp, err := svc.Generate(ctx, params)
	if err != nil {
		return err
	}
	return printResponse(resp)
}

func streamGenerate(ctx context.Context, svc *gen.Service, params gen.GenerateParams) error {
	ch, err := svc.GenerateStream(ctx, params)
	if err != nil {
		return err
	}
	for chunk := range ch {
		if chunk.Err != nil {
			return chunk.Err
		}
		fmt.Print(chunk.Delta)
	}
	fmt.Println()
	return nil
}

func asyncGenerate(ctx context.Context, base *appconfig.Base, svc *gen.Service, params gen.GenerateParams) error {
	queue := tasks.NewQueue(
		tasks.WithWorkers(base.QueueWorkers),
		tasks.WithCapacity(base.QueueCapacity),
		tasks.WithTick(base.QueueTick),
	)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		queue.Shutdown(shutdownCtx)
	}()

	async := gen.NewAsyncGenerator(svc, queue)
	taskID, err := async.Submit(ctx, "cli-generate", params)
	if err != nil {
		return err
	}
	output.Info("task %s submitted", taskID)

	snap, err := async.Wait(ctx, taskID)
	if err != nil {
		return err
	}
	if snap.Status != tasks.StatusCompleted {
		return fmt.Errorf("task %s %s: %s", snap.ID, snap.Status, snap.Error)
	}

	resp, ok := snap.Result.(*gen.GenerationResponse)
	if !ok {
		return fmt.Errorf("unexpected task result type %T", snap.Result)
	}
	output.Success("completed in %s", snap.Duration.Round(time.Millisecond))
	return printResponse(resp)
}

func printResponse(resp *gen.GenerationResponse) error {
	if cfg.Format == "json" || cfg.Format == "yaml" {
		w := output.NewWriter(cfg.Format)
		return w.Print(map[string]any{
			"id":            resp.ID,
			"provider":      string(resp.Provider),
			"model":         resp.Model,
			"content":       resp.Content,
			"finish_reason": resp.FinishReason,
			"usage": map[string]int{
				"prompt_tokens":     resp.Usage.PromptTokens,
				"completion_tokens": resp.Usage.CompletionTokens,
				"total_tokens":      resp.Usage.TotalTokens,
			},
			"metadata": resp.Metadata,
		})
	}

	fmt.Println(resp.Content)
	if cfg.Verbose {
		fmt.Println(strings.Repeat("-", 40))
		output.Info("provider=%s model=%s tokens=%d finish=%s",
			resp.Provider, resp.Model, resp.Usage.TotalTokens, resp.FinishReason)
	}
	return nil
}

func init() {
	generateCmd.Flags().StringVarP(&genProvider, "provider", "p", "", "Explicit provider (no fallback)")
	generateCmd.Flags().StringVarP(&genModel, "model", "m", "", "Model override")
	generateCmd.Flags().StringVar(&genSystem, "system", "", "System prompt")
	generateCmd.Flags().Float64VarP(&genTemperature, "temperature", "t", 0.7, "Sampling temperature [0,2]")
	generateCmd.Flags().IntVar(&genMaxTokens, "max-tokens", 0, "Max completion tokens (0 = provider default)")
	generateCmd.Flags().BoolVar(&genNoCache, "no-cache", false, "Bypass the response cache")
	generateCmd.Flags().BoolVar(&genStream, "stream", false, "Stream the completion")
	generateCmd.Flags().BoolVar(&genAsync, "async", false, "Run through the task queue")
}
