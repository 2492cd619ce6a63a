package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/itish2003/legaldoc/logger"
	"github.com/itish2003/legaldoc/models"
	"github.com/itish2003/legaldoc/usage"

	"github.com/looplab/fsm"
)

const DefaultCallTimeout = 60 * time.Second

// maxCooldownWaits bounds how often a follow-up call waits out the cooldown before giving up.
const maxCooldownWaits = 3

const (
	StateIdle        = "idle"
	StateGateChecked = "gate_checked"
	StateCalled      = "called"
	StateParsed      = "parsed"
	StateCommitted   = "committed"
	StateDenied      = "denied"
	StateFailed      = "failed"
)

const (
	EventGateAllowed = "gate_allowed"
	EventGateDenied  = "gate_denied"
	EventResponded   = "responded"
	EventParsed      = "parsed"
	EventCommit      = "commit"
	EventFail        = "fail"
)

const (
	OpSummary          = "summary"
	OpParagraphSummary = "paragraph_summary"
	OpChat             = "chat"
	OpClauseSections   = "clause_sections"
	OpClauseTitles     = "clause_titles"
)

// Gate hands out usage slots; *usage.Gate implements it.
type Gate interface {
	Reserve(ctx context.Context, userID string) (*usage.Reservation, error)
}

type Option func(*Orchestrator)

func WithCallTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = d }
}

func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithLogger(l logger.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// WithSleep replaces the cooldown wait between the calls of one operation, for tests.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = sleep }
}

// Orchestrator runs every provider call through the usage gate. A call that fails at the
// provider gives its slot back; a call whose answer cannot be parsed keeps it. Follow-up calls
// inside one operation wait out the cooldown left by the previous call instead of failing.
type Orchestrator struct {
	provider Provider
	gate     Gate
	timeout  time.Duration
	sleep    func(ctx context.Context, d time.Duration) error
	metrics  *Metrics
	log      logger.Logger
}

func NewOrchestrator(provider Provider, gate Gate, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		provider: provider,
		gate:     gate,
		timeout:  DefaultCallTimeout,
		sleep:    sleepContext,
		log:      logger.GetDefault(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.log = o.log.With("component", "ORCHESTRATOR")
	return o
}

func newCallFSM(log logger.Logger) *fsm.FSM {
	return fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: EventGateAllowed, Src: []string{StateIdle}, Dst: StateGateChecked},
			{Name: EventGateDenied, Src: []string{StateIdle}, Dst: StateDenied},
			{Name: EventResponded, Src: []string{StateGateChecked}, Dst: StateCalled},
			{Name: EventParsed, Src: []string{StateCalled}, Dst: StateParsed},
			{Name: EventCommit, Src: []string{StateParsed}, Dst: StateCommitted},
			{Name: EventFail, Src: []string{StateIdle, StateGateChecked, StateCalled}, Dst: StateFailed},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				log.Debug("call transition", "event", e.Event, "from", e.Src, "to", e.Dst)
			},
		},
	)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// reserve takes a usage slot. A follow-up call denied only by the cooldown sleeps for the
// remaining wait and tries again.
func (o *Orchestrator) reserve(ctx context.Context, userID string, followUp bool, log logger.Logger) (*usage.Reservation, error) {
	for attempt := 0; ; attempt++ {
		slot, err := o.gate.Reserve(ctx, userID)
		wait := models.RetryAfterOf(err)
		if err == nil || !followUp || wait <= 0 || attempt >= maxCooldownWaits {
			return slot, err
		}
		log.Debug("waiting out cooldown", "wait", wait)
		if err := o.sleep(ctx, wait); err != nil {
			return nil, fmt.Errorf("waiting for cooldown: %w", err)
		}
	}
}

// gatedCall reserves a slot, calls the provider under the call timeout, runs parse on the answer
// and commits. parse may be nil. followUp marks a later call of a multi-call operation.
func (o *Orchestrator) gatedCall(ctx context.Context, op, userID, prompt string, followUp bool, parse func(string) error) (string, error) {
	log := o.log.With("operation", op, "user", userID)
	machine := newCallFSM(log)
	step := func(event string) {
		if err := machine.Event(ctx, event); err != nil {
			log.Error("invalid call transition", "event", event, "state", machine.Current(), "error", err)
		}
	}

	slot, err := o.reserve(ctx, userID, followUp, log)
	if err != nil {
		if models.IsKind(err, models.KindRateLimited) {
			step(EventGateDenied)
			o.metrics.observeDenial(op)
			return "", err
		}
		step(EventFail)
		return "", fmt.Errorf("usage gate: %w", err)
	}
	step(EventGateAllowed)

	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	started := time.Now()
	resp, err := o.provider.Generate(callCtx, prompt)
	took := time.Since(started)
	if err != nil {
		err = classifyProviderError(callCtx, err)
		cancel()
		step(EventFail)
		o.metrics.observeCall(op, string(models.KindOf(err)), took, nil)
		if relErr := slot.Release(context.WithoutCancel(ctx)); relErr != nil {
			log.Warn("could not release usage slot", "error", relErr)
		}
		log.Error("provider call failed", "error", err)
		return "", err
	}
	cancel()
	step(EventResponded)

	if parse != nil {
		if err := parse(resp.Text); err != nil {
			slot.Commit()
			step(EventFail)
			o.metrics.observeCall(op, string(models.KindParseFailure), took, resp.TokenCount)
			log.Warn("could not parse provider answer", "error", err)
			return "", err
		}
	}
	step(EventParsed)
	slot.Commit()
	step(EventCommit)
	o.metrics.observeCall(op, "success", took, resp.TokenCount)
	return resp.Text, nil
}

// Summarize returns the model's summary of a document's full text.
func (o *Orchestrator) Summarize(ctx context.Context, userID, fullText string) (string, error) {
	prompt, err := render(summaryPrompt, map[string]any{"text": fullText})
	if err != nil {
		return "", err
	}
	return o.gatedCall(ctx, OpSummary, userID, prompt, false, nil)
}

// Chat answers question from the supplied context chunks only.
func (o *Orchestrator) Chat(ctx context.Context, userID, question string, contextChunks []string) (string, error) {
	prompt, err := render(chatPrompt, map[string]any{
		"context":  strings.Join(contextChunks, "\n"),
		"question": question,
	})
	if err != nil {
		return "", err
	}
	return o.gatedCall(ctx, OpChat, userID, prompt, false, nil)
}

// ParagraphSummaries summarizes each chunk with its own gated call. On failure it returns the
// summaries produced so far together with the error.
func (o *Orchestrator) ParagraphSummaries(ctx context.Context, userID string, chunks []string) ([]string, error) {
	summaries := make([]string, 0, len(chunks))
	for i, chunk := range chunks {
		prompt, err := render(paragraphSummaryPrompt, map[string]any{"text": chunk})
		if err != nil {
			return summaries, err
		}
		summary, err := o.gatedCall(ctx, OpParagraphSummary, userID, prompt, i > 0, nil)
		if err != nil {
			return summaries, fmt.Errorf("paragraph %d: %w", i+1, err)
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// ExtractClauses runs the two-stage protocol: tagged sections first, then restored titles for
// their tags. Each stage consumes one usage slot. Stage 2 waits out the cooldown; any other
// denial before it stops the operation.
func (o *Orchestrator) ExtractClauses(ctx context.Context, userID, fullText string) ([]models.Clause, error) {
	prompt, err := render(clauseSectionsPrompt, map[string]any{"text": fullText})
	if err != nil {
		return nil, err
	}
	var sections []Section
	_, err = o.gatedCall(ctx, OpClauseSections, userID, prompt, false, func(raw string) error {
		sections = ParseSections(raw)
		if len(sections) == 0 {
			return parseFailure("no tagged sections in the model answer", raw)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	prompt, err = render(clauseTitlesPrompt, map[string]any{"tags": strings.Join(Tags(sections), "\n")})
	if err != nil {
		return nil, err
	}
	var titles []Section
	_, err = o.gatedCall(ctx, OpClauseTitles, userID, prompt, true, func(raw string) error {
		titles = ParseSections(raw)
		if len(titles) == 0 {
			return parseFailure("no restored titles in the model answer", raw)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(titles) != len(sections) {
		o.log.Warn("section and title counts differ", "sections", len(sections), "titles", len(titles))
	}
	return PairTitles(sections, titles), nil
}

func parseFailure(reason, raw string) error {
	e := models.NewError(models.KindParseFailure, reason, errors.New("unparseable model output"))
	e.Raw = raw
	return e
}
