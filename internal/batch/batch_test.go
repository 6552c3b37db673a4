package batch

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/imagen-apex/apex/internal/pipeline"
)

type fakePipeline struct {
	mu       sync.Mutex
	requests []pipeline.Request
	fail     map[string]bool
	delay    time.Duration

	active    atomic.Int32
	maxActive atomic.Int32
}

func (f *fakePipeline) Generate(ctx context.Context, req pipeline.Request) (*pipeline.Result, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		max := f.maxActive.Load()
		if n <= max || f.maxActive.CompareAndSwap(max, n) {
			break
		}
	}

	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.fail[req.Prompt] {
		return nil, errors.New("generation failed")
	}
	return &pipeline.Result{ArtifactPath: req.OutputPath}, nil
}

func TestOutputName(t *testing.T) {
	assert.Equal(t, "000_a_red_sports_car.ply", OutputName(0, "a red sports car"))
	assert.Equal(t, "012_a_wooden_chair.ply", OutputName(12, "A Wooden Chair"))
	assert.Equal(t, "001_a_very_long_prompt_describing_.ply", OutputName(1, "a very long prompt describing a detailed object"))
	assert.Equal(t, "002_日本の_茶碗.ply", OutputName(2, "日本の 茶碗"))
}

func TestOutputNameProperties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		index := rapid.IntRange(0, 999).Draw(t, "index")
		prompt := rapid.String().Draw(t, "prompt")

		name := OutputName(index, prompt)
		stem := strings.TrimSuffix(name[4:], ".ply")

		if !strings.HasSuffix(name, ".ply") {
			t.Fatalf("missing extension: %q", name)
		}
		if len([]rune(stem)) > maxNameRunes {
			t.Fatalf("name too long: %q", stem)
		}
		if strings.Contains(stem, " ") {
			t.Fatalf("name contains a space: %q", stem)
		}
	})
}

func TestRunSequential(t *testing.T) {
	fake := &fakePipeline{fail: map[string]bool{"a ceramic vase": true}}
	runner := NewRunner(fake, 1, nil)

	var seen []string
	runner.OnOutcome = func(o Outcome) { seen = append(seen, o.Prompt) }

	dir := t.TempDir()
	outcomes := runner.Run(context.Background(), DefaultPrompts, dir)
	require.Len(t, outcomes, len(DefaultPrompts))

	assert.Equal(t, DefaultPrompts, seen)
	assert.Equal(t, 4, Successful(outcomes))

	assert.Equal(t, StatusSuccess, outcomes[0].Status)
	assert.Equal(t, filepath.Join(dir, "000_a_red_sports_car.ply"), outcomes[0].Output)

	assert.Equal(t, StatusError, outcomes[2].Status)
	assert.Equal(t, "generation failed", outcomes[2].Error)
	assert.Empty(t, outcomes[2].Output)

	for i, req := range fake.requests {
		assert.Equal(t, DefaultPrompts[i], req.Prompt)
		assert.Equal(t, pipeline.DefaultSeed, req.Seed)
	}
}

func TestRunParallel(t *testing.T) {
	prompts := []string{"a", "b", "c", "d", "e", "f"}
	fake := &fakePipeline{delay: 20 * time.Millisecond}
	runner := NewRunner(fake, 3, nil)

	outcomes := runner.Run(context.Background(), prompts, t.TempDir())
	assert.Equal(t, len(prompts), Successful(outcomes))
	assert.LessOrEqual(t, fake.maxActive.Load(), int32(3))
	assert.Greater(t, fake.maxActive.Load(), int32(1))

	for i, o := range outcomes {
		assert.Equal(t, i, o.Index)
		assert.Equal(t, prompts[i], o.Prompt)
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fake := &fakePipeline{}
	outcomes := NewRunner(fake, 2, nil).Run(ctx, []string{"a", "b"}, t.TempDir())
	assert.Equal(t, 0, Successful(outcomes))
	assert.Empty(t, fake.requests)
}
