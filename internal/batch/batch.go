package batch

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gammazero/workerpool"
	"go.uber.org/zap"

	"github.com/imagen-apex/apex/internal/pipeline"
)

const (
	StatusSuccess = "success"
	StatusError   = "error"

	maxNameRunes = 30
)

var DefaultPrompts = []string{
	"a red sports car",
	"a wooden chair",
	"a ceramic vase",
	"a vintage telephone",
	"a golden trophy",
}

// Generator is the part of the pipeline a batch needs.
type Generator interface {
	Generate(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

type Outcome struct {
	Index  int    `json:"index"`
	Prompt string `json:"prompt"`
	Status string `json:"status"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (o Outcome) Succeeded() bool {
	return o.Status == StatusSuccess
}

type Runner struct {
	pipeline Generator
	parallel int
	seed     int64
	logger   *zap.Logger

	// OnOutcome, when set, is called once per prompt as soon as it finishes.
	OnOutcome func(Outcome)
}

func NewRunner(p Generator, parallel int, logger *zap.Logger) *Runner {
	if parallel < 1 {
		parallel = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Runner{
		pipeline: p,
		parallel: parallel,
		seed:     pipeline.DefaultSeed,
		logger:   logger,
	}
}

// Run generates one artifact per prompt into outputDir. Failures are recorded
// in the returned outcomes, which follow the order of prompts.
func (r *Runner) Run(ctx context.Context, prompts []string, outputDir string) []Outcome {
	outcomes := make([]Outcome, len(prompts))

	var mu sync.Mutex
	report := func(o Outcome) {
		outcomes[o.Index] = o
		if r.OnOutcome != nil {
			mu.Lock()
			r.OnOutcome(o)
			mu.Unlock()
		}
	}

	wp := workerpool.New(r.parallel)
	for i, prompt := range prompts {
		wp.Submit(func() {
			report(r.runOne(ctx, i, prompt, outputDir))
		})
	}
	wp.StopWait()

	return outcomes
}

func (r *Runner) runOne(ctx context.Context, index int, prompt, outputDir string) Outcome {
	outcome := Outcome{Index: index, Prompt: prompt}

	if err := ctx.Err(); err != nil {
		outcome.Status = StatusError
		outcome.Error = err.Error()
		return outcome
	}

	output := filepath.Join(outputDir, OutputName(index, prompt))
	r.logger.Info("batch item started", zap.Int("index", index), zap.String("prompt", prompt))

	res, err := r.pipeline.Generate(ctx, pipeline.Request{
		Prompt:           prompt,
		OutputPath:       output,
		Seed:             r.seed,
		SaveIntermediate: true,
	})
	if err != nil {
		r.logger.Warn("batch item failed", zap.Int("index", index), zap.Error(err))
		outcome.Status = StatusError
		outcome.Error = err.Error()
		return outcome
	}

	outcome.Status = StatusSuccess
	outcome.Output = res.ArtifactPath
	return outcome
}

// OutputName is "{index:03d}_{name}.ply" where name is the lower-cased
// prompt with spaces replaced by underscores, cut to 30 runes.
func OutputName(index int, prompt string) string {
	name := strings.ToLower(prompt)
	name = strings.ReplaceAll(name, " ", "_")
	name = strings.ReplaceAll(name, string(filepath.Separator), "_")

	if runes := []rune(name); len(runes) > maxNameRunes {
		name = string(runes[:maxNameRunes])
	}

	return fmt.Sprintf("%03d_%s.ply", index, name)
}

func Successful(outcomes []Outcome) int {
	n := 0
	for _, o := range outcomes {
		if o.Succeeded() {
			n++
		}
	}
	return n
}
