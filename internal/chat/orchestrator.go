// Package chat generates answers: it retrieves context, streams the model
// output as UI message stream events and writes completed answers back to
// the semantic cache.
package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/fyrsmithlabs/ragcache/internal/backend"
	"github.com/fyrsmithlabs/ragcache/internal/llm"
	"github.com/fyrsmithlabs/ragcache/internal/logging"
	"github.com/fyrsmithlabs/ragcache/internal/retrieval"
	"github.com/fyrsmithlabs/ragcache/internal/semcache"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// DefaultWriteTimeout bounds a background cache write.
const DefaultWriteTimeout = 10 * time.Second

var tracer = otel.Tracer("ragcache.chat")

// Retriever finds context chunks for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]retrieval.Chunk, error)
}

// CacheWriter stores a completed answer.
type CacheWriter interface {
	Store(ctx context.Context, query, text string, citations []semcache.Citation) error
}

// Request is one chat turn. Query is the text of the last message;
// Messages is the conversation passed to the generator and defaults to
// the query alone.
type Request struct {
	Query    string
	Messages []llm.Message
}

// Orchestrator runs the generation pipeline.
type Orchestrator struct {
	retriever    Retriever
	generator    llm.Generator
	cache        CacheWriter
	writeTimeout time.Duration
	logger       *logging.Logger

	pending sync.WaitGroup
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithCache enables write-back of completed answers.
func WithCache(c CacheWriter) Option {
	return func(o *Orchestrator) { o.cache = c }
}

// WithWriteTimeout bounds each cache write.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.writeTimeout = d
		}
	}
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(retriever Retriever, generator llm.Generator, logger *logging.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = logging.Nop()
	}
	o := &Orchestrator{
		retriever:    retriever,
		generator:    generator,
		writeTimeout: DefaultWriteTimeout,
		logger:       logger.Named("chat"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Stream answers req. The returned channel yields events in order and is
// closed when the answer is complete, fails, or ctx is done. Callers must
// drain the channel or cancel ctx.
func (o *Orchestrator) Stream(ctx context.Context, req Request) <-chan Event {
	events := make(chan Event)
	go o.run(ctx, req, events)
	return events
}

// Wait blocks until background cache writes have finished. A write is
// registered before its stream's channel closes, so writes from drained
// streams are always covered. A Stream call that overlaps Wait may start a
// write Wait does not see, so call it only once no Stream is running, e.g.
// after the HTTP server has shut down.
func (o *Orchestrator) Wait() {
	o.pending.Wait()
}

// run owns events and closes it.
func (o *Orchestrator) run(ctx context.Context, req Request, events chan<- Event) {
	defer close(events)

	ctx, span := tracer.Start(ctx, "chat.Stream")
	defer span.End()

	r := &turn{o: o, ctx: ctx, span: span, events: events}
	r.transition(StateReceived)

	if !r.send(Event{Type: EventStart}) {
		return
	}

	r.transition(StateRetrieving)
	chunks, err := o.retriever.Retrieve(ctx, req.Query)
	if err != nil {
		r.fail("retrieval failed", err)
		return
	}
	citations := Citations(chunks)
	span.SetAttributes(attribute.Int("chat.chunks", len(chunks)))
	if !r.send(Event{Type: EventCitations, Citations: citations}) {
		return
	}

	r.transition(StateGenerating)
	messages := req.Messages
	if len(messages) == 0 {
		messages = []llm.Message{{Role: llm.RoleUser, Text: req.Query}}
	}
	genReq := llm.Request{System: SystemPrompt(chunks), Messages: messages}

	id := "text-" + uuid.NewString()
	var answer strings.Builder
	started := false
	for delta, err := range o.generator.Stream(ctx, genReq) {
		if err != nil {
			r.fail("generation failed", err)
			return
		}
		if !started {
			r.transition(StateStreaming)
			if !r.send(Event{Type: EventTextStart, ID: id}) {
				return
			}
			started = true
		}
		answer.WriteString(delta)
		if !r.send(Event{Type: EventTextDelta, ID: id, Delta: delta}) {
			return
		}
	}
	if ctx.Err() != nil {
		r.transition(StateCanceled)
		return
	}
	if started && !r.send(Event{Type: EventTextEnd, ID: id}) {
		return
	}

	text := answer.String()
	if o.cache != nil && strings.TrimSpace(req.Query) != "" && text != "" {
		r.transition(StateCacheWriting)
		o.storeAsync(ctx, req.Query, text, citations)
	}

	if r.send(Event{Type: EventFinish}) {
		r.transition(StateDone)
	}
}

// storeAsync writes the answer without holding up the response. The write
// outlives the request but not the write timeout.
func (o *Orchestrator) storeAsync(ctx context.Context, query, text string, citations []semcache.Citation) {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.writeTimeout)
	o.pending.Add(1)
	go func() {
		defer o.pending.Done()
		defer cancel()
		if err := o.cache.Store(writeCtx, query, text, citations); err != nil {
			o.logger.Warn(writeCtx, "cache write failed", zap.Error(err))
		}
	}()
}

// turn is the state of one Stream call.
type turn struct {
	o      *Orchestrator
	ctx    context.Context
	span   oteltrace.Span
	events chan<- Event
	state  State
}

// send delivers ev unless ctx is done first.
func (t *turn) send(ev Event) bool {
	select {
	case t.events <- ev:
		return true
	case <-t.ctx.Done():
		t.transition(StateCanceled)
		return false
	}
}

func (t *turn) transition(s State) {
	if t.state == s {
		return
	}
	t.state = s
	t.span.AddEvent(s.String())
	t.o.logger.Trace(t.ctx, "chat state", zap.Stringer("state", s))
}

// fail reports err to the client unless the request was canceled.
func (t *turn) fail(msg string, err error) {
	if t.ctx.Err() != nil || errors.Is(err, context.Canceled) {
		t.transition(StateCanceled)
		return
	}
	t.transition(StateFailed)
	t.span.RecordError(err)
	t.o.logger.Error(t.ctx, msg, zap.Error(err))
	t.send(Event{Type: EventError, ErrorText: errorText(err)})
}

// errorText is the client-facing message for err.
func errorText(err error) string {
	switch {
	case errors.Is(err, backend.ErrConfigMissing):
		return "The service is not configured: " + err.Error()
	case errors.Is(err, backend.ErrRateLimited):
		return "The model is rate limited. Please try again shortly."
	default:
		return "Failed to generate an answer."
	}
}
