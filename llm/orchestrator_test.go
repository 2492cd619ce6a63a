package llm

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/itish2003/legaldoc/logger"
	"github.com/itish2003/legaldoc/models"
	"github.com/itish2003/legaldoc/usage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedProvider struct {
	mu      sync.Mutex
	answers []string
	errs    []error
	prompts []string
	block   bool
}

func (p *scriptedProvider) Generate(ctx context.Context, prompt string) (*Response, error) {
	p.mu.Lock()
	i := len(p.prompts)
	p.prompts = append(p.prompts, prompt)
	p.mu.Unlock()

	if p.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if i < len(p.errs) && p.errs[i] != nil {
		return nil, p.errs[i]
	}
	tokens := 42
	return &Response{Text: p.answers[i], TokenCount: &tokens}, nil
}

func (p *scriptedProvider) calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.prompts)
}

func newTestGate(limit int) (*usage.Gate, *usage.MemoryStore) {
	store := usage.NewMemoryStore()
	return usage.NewGate(store,
		usage.WithDailyLimit(limit),
		usage.WithCooldown(0),
		usage.WithLogger(logger.Discard()),
	), store
}

// fakeClock drives a gate's clock; its sleep advances time instead of blocking.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	slept []time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.slept = append(c.slept, d)
	return nil
}

// newCooldownGate uses the default one-second cooldown on a fake clock.
func newCooldownGate(limit int) (*usage.Gate, *fakeClock) {
	c := &fakeClock{now: time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)}
	return usage.NewGate(usage.NewMemoryStore(),
		usage.WithDailyLimit(limit),
		usage.WithCooldown(usage.DefaultCooldown),
		usage.WithClock(c.Now),
		usage.WithLocation(time.UTC),
		usage.WithLogger(logger.Discard()),
	), c
}

func newTestOrchestrator(p Provider, g Gate, opts ...Option) *Orchestrator {
	return NewOrchestrator(p, g, append([]Option{WithLogger(logger.Discard())}, opts...)...)
}

func usedSlots(t *testing.T, g *usage.Gate, user string) int {
	t.Helper()
	rec, err := g.Usage(context.Background(), user)
	require.NoError(t, err)
	return rec.RequestCount
}

func TestOrchestrator_Summarize(t *testing.T) {
	ctx := context.Background()

	t.Run("Should return the answer and consume one slot", func(t *testing.T) {
		gate, _ := newTestGate(10)
		p := &scriptedProvider{answers: []string{"A lease between two parties."}}
		out, err := newTestOrchestrator(p, gate).Summarize(ctx, "alice", "FULL TEXT")
		require.NoError(t, err)
		assert.Equal(t, "A lease between two parties.", out)
		assert.Contains(t, p.prompts[0], "FULL TEXT")
		assert.Equal(t, 1, usedSlots(t, gate, "alice"))
	})

	t.Run("Should not call the provider when denied", func(t *testing.T) {
		gate, _ := newTestGate(0)
		p := &scriptedProvider{answers: []string{"unused"}}
		_, err := newTestOrchestrator(p, gate).Summarize(ctx, "alice", "text")
		assert.True(t, models.IsKind(err, models.KindRateLimited))
		assert.Equal(t, "Daily API limit reached. Please try again tomorrow.", models.ReasonOf(err))
		assert.Equal(t, 0, p.calls())
	})

	t.Run("Should release the slot on provider failure", func(t *testing.T) {
		gate, _ := newTestGate(10)
		p := &scriptedProvider{errs: []error{errors.New("503 unavailable")}}
		_, err := newTestOrchestrator(p, gate).Summarize(ctx, "alice", "text")
		assert.True(t, models.IsKind(err, models.KindProviderFailure))
		assert.Equal(t, 0, usedSlots(t, gate, "alice"))
	})

	t.Run("Should time out slow providers", func(t *testing.T) {
		gate, _ := newTestGate(10)
		p := &scriptedProvider{block: true}
		_, err := newTestOrchestrator(p, gate, WithCallTimeout(20*time.Millisecond)).Summarize(ctx, "alice", "text")
		assert.True(t, models.IsKind(err, models.KindProviderTimeout))
		assert.Equal(t, 0, usedSlots(t, gate, "alice"))
	})
}

func TestOrchestrator_Chat(t *testing.T) {
	t.Run("Should put the newline-joined context and the question in the prompt", func(t *testing.T) {
		gate, _ := newTestGate(10)
		p := &scriptedProvider{answers: []string{"Thirty days."}}
		out, err := newTestOrchestrator(p, gate).Chat(context.Background(), "bob", "What is the notice period?",
			[]string{"Notice is thirty days.", "Rent is monthly."})
		require.NoError(t, err)
		assert.Equal(t, "Thirty days.", out)
		assert.Contains(t, p.prompts[0], "Notice is thirty days.\nRent is monthly.")
		assert.Contains(t, p.prompts[0], "Question: What is the notice period?")
		assert.Contains(t, p.prompts[0], "Do not invent")
	})
}

func TestOrchestrator_ExtractClauses(t *testing.T) {
	ctx := context.Background()
	stage1 := "```xml\n<Dieu_1_Pham_vi>\n- muc a\n</Dieu_1_Pham_vi>\n<Dieu_2_Gia>\n- muc b\n  - chi tiet\n</Dieu_2_Gia>\n```"
	stage2 := "<Dieu_1_Pham_vi>Điều 1. Phạm vi</Dieu_1_Pham_vi>\n<Dieu_2_Gia>Điều 2. Giá</Dieu_2_Gia>"

	t.Run("Should produce N clauses from N sections and N titles", func(t *testing.T) {
		gate, _ := newTestGate(10)
		p := &scriptedProvider{answers: []string{stage1, stage2}}
		clauses, err := newTestOrchestrator(p, gate).ExtractClauses(ctx, "alice", "document text")
		require.NoError(t, err)
		assert.Equal(t, []models.Clause{
			{Title: "Điều 1. Phạm vi", Content: "- muc a"},
			{Title: "Điều 2. Giá", Content: "- muc b\n  - chi tiet"},
		}, clauses)
		assert.Contains(t, p.prompts[1], "Dieu_1_Pham_vi\nDieu_2_Gia")
		assert.Equal(t, 2, usedSlots(t, gate, "alice"))
	})

	t.Run("Should wait out the cooldown before stage two", func(t *testing.T) {
		gate, c := newCooldownGate(10)
		p := &scriptedProvider{answers: []string{stage1, stage2}}
		clauses, err := newTestOrchestrator(p, gate, WithSleep(c.Sleep)).ExtractClauses(ctx, "alice", "document text")
		require.NoError(t, err)
		assert.Len(t, clauses, 2)
		assert.Equal(t, "Điều 2. Giá", clauses[1].Title)
		assert.Equal(t, []time.Duration{time.Second}, c.slept)
		assert.Equal(t, 2, p.calls())
		assert.Equal(t, 2, usedSlots(t, gate, "alice"))
	})

	t.Run("Should give up when the context ends during the cooldown", func(t *testing.T) {
		gate, _ := newCooldownGate(10)
		p := &scriptedProvider{answers: []string{stage1, stage2}}
		waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		_, err := newTestOrchestrator(p, gate, WithSleep(sleepContext)).ExtractClauses(waitCtx, "alice", "document text")
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, 1, p.calls())
	})

	t.Run("Should stop before stage two when the gate denies it", func(t *testing.T) {
		gate, _ := newTestGate(1)
		p := &scriptedProvider{answers: []string{stage1, stage2}}
		_, err := newTestOrchestrator(p, gate).ExtractClauses(ctx, "alice", "document text")
		assert.True(t, models.IsKind(err, models.KindRateLimited))
		assert.Equal(t, 1, p.calls())
		assert.Equal(t, 1, usedSlots(t, gate, "alice"))
	})

	t.Run("Should report unparseable stage one output and keep the slot", func(t *testing.T) {
		gate, _ := newTestGate(10)
		p := &scriptedProvider{answers: []string{"Sorry, I can't do that."}}
		_, err := newTestOrchestrator(p, gate).ExtractClauses(ctx, "alice", "document text")
		require.True(t, models.IsKind(err, models.KindParseFailure))
		var typed *models.Error
		require.ErrorAs(t, err, &typed)
		assert.Equal(t, "Sorry, I can't do that.", typed.Raw)
		assert.Equal(t, 1, p.calls())
		assert.Equal(t, 1, usedSlots(t, gate, "alice"))
	})

	t.Run("Should report an empty stage two answer", func(t *testing.T) {
		gate, _ := newTestGate(10)
		p := &scriptedProvider{answers: []string{stage1, "no tags here"}}
		_, err := newTestOrchestrator(p, gate).ExtractClauses(ctx, "alice", "document text")
		assert.True(t, models.IsKind(err, models.KindParseFailure))
		assert.Equal(t, 2, usedSlots(t, gate, "alice"))
	})
}

func TestOrchestrator_ParagraphSummaries(t *testing.T) {
	t.Run("Should summarize each chunk in order", func(t *testing.T) {
		gate, _ := newTestGate(10)
		p := &scriptedProvider{answers: []string{"s1", "s2"}}
		out, err := newTestOrchestrator(p, gate).ParagraphSummaries(context.Background(), "alice", []string{"c1", "c2"})
		require.NoError(t, err)
		assert.Equal(t, []string{"s1", "s2"}, out)
		assert.True(t, strings.HasSuffix(p.prompts[1], "c2"))
	})

	t.Run("Should summarize every chunk under the default cooldown", func(t *testing.T) {
		gate, c := newCooldownGate(10)
		p := &scriptedProvider{answers: []string{"s1", "s2", "s3"}}
		out, err := newTestOrchestrator(p, gate, WithSleep(c.Sleep)).ParagraphSummaries(context.Background(), "alice", []string{"c1", "c2", "c3"})
		require.NoError(t, err)
		assert.Equal(t, []string{"s1", "s2", "s3"}, out)
		assert.Len(t, c.slept, 2)
		assert.Equal(t, 3, usedSlots(t, gate, "alice"))
	})

	t.Run("Should not wait before the first call of an operation", func(t *testing.T) {
		gate, c := newCooldownGate(10)
		o := newTestOrchestrator(&scriptedProvider{answers: []string{"a", "b"}}, gate, WithSleep(c.Sleep))
		_, err := o.Summarize(context.Background(), "alice", "text")
		require.NoError(t, err)
		_, err = o.ParagraphSummaries(context.Background(), "alice", []string{"c1"})
		assert.True(t, models.IsKind(err, models.KindRateLimited))
		assert.Empty(t, c.slept)
	})

	t.Run("Should return partial results when the budget runs out", func(t *testing.T) {
		gate, _ := newTestGate(2)
		p := &scriptedProvider{answers: []string{"s1", "s2", "s3"}}
		out, err := newTestOrchestrator(p, gate).ParagraphSummaries(context.Background(), "alice", []string{"c1", "c2", "c3"})
		assert.True(t, models.IsKind(err, models.KindRateLimited))
		assert.Equal(t, []string{"s1", "s2"}, out)
	})
}

func TestMetrics(t *testing.T) {
	t.Run("Should count calls, tokens and denials", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		metrics := NewMetrics(reg)
		gate, _ := newTestGate(1)
		p := &scriptedProvider{answers: []string{"ok"}}
		o := newTestOrchestrator(p, gate, WithMetrics(metrics))

		_, err := o.Summarize(context.Background(), "alice", "text")
		require.NoError(t, err)
		_, err = o.Summarize(context.Background(), "alice", "text")
		require.Error(t, err)

		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.calls.WithLabelValues(OpSummary, "success")))
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.calls.WithLabelValues(OpSummary, "denied")))
		assert.Equal(t, 42.0, testutil.ToFloat64(metrics.tokens.WithLabelValues(OpSummary)))
		assert.Equal(t, 1.0, testutil.ToFloat64(metrics.denials))
	})

	t.Run("Should tolerate nil metrics", func(t *testing.T) {
		var m *Metrics
		m.observeCall("x", "success", time.Second, nil)
		m.observeDenial("x")
	})
}
