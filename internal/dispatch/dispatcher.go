// Package dispatch is the request pipeline: it classifies inbound messages,
// authorizes their senders, resolves sessions and capability sets, invokes the
// agent and emits the reply.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/frontiertower/towerbot/internal/bus"
	"github.com/frontiertower/towerbot/internal/command"
	"github.com/frontiertower/towerbot/internal/directory"
	"github.com/frontiertower/towerbot/internal/ingest"
	"github.com/frontiertower/towerbot/internal/policy"
	"github.com/frontiertower/towerbot/internal/session"
	"github.com/frontiertower/towerbot/internal/timeline"
	"github.com/frontiertower/towerbot/internal/tools"
)

// Stage is a state of the per-message pipeline.
type Stage string

const (
	StageReceived    Stage = "RECEIVED"
	StageClassified  Stage = "CLASSIFIED"
	StageAuthorizing Stage = "AUTHORIZING"
	StageAuthorized  Stage = "AUTHORIZED"
	StageRejected    Stage = "REJECTED"
	StageSessioned   Stage = "SESSIONED"
	StageRouted      Stage = "ROUTED"
	StageCompleted   Stage = "COMPLETED"
	StageFailed      Stage = "FAILED"
)

// Outcome is the terminal state of one processed message.
type Outcome struct {
	Stage    Stage
	Category command.Category
	// Verdict is the zero value when authorization did not run.
	Verdict policy.Verdict
	Err     error
	// Duplicate is set when a redelivered message was dropped.
	Duplicate bool
	TraceID   string
}

// Transport delivers replies and group departures.
type Transport interface {
	SendMessage(ctx context.Context, msg *bus.OutboundMessage) error
	LeaveGroup(ctx context.Context, channel, chatID string) error
}

// Invoker runs an agent for one capability set.
type Invoker interface {
	Invoke(ctx context.Context, set tools.CapabilitySet, state session.State, text string) (string, session.State, error)
}

// CapabilityResolver returns the capability set of a category.
type CapabilityResolver interface {
	Resolve(cat command.Category) (tools.CapabilitySet, error)
}

// Auditor records verdicts and routed tasks.
type Auditor interface {
	LogPolicyDecision(ctx context.Context, rec *timeline.PolicyDecisionRecord) error
	CreateTask(ctx context.Context, task *timeline.AgentTask) (*timeline.AgentTask, error)
	GetTaskByIdempotencyKey(ctx context.Context, key string) (*timeline.AgentTask, error)
	UpdateTaskStatus(ctx context.Context, taskID, status, contentOut, errorText string) error
}

// LoginLinker issues OAuth authorization links.
type LoginLinker interface {
	LoginURL(ctx context.Context, userID string) (string, time.Time, error)
}

// Source yields inbound messages.
type Source interface {
	ConsumeInbound(ctx context.Context) (*bus.InboundMessage, error)
}

// Options wires a Dispatcher.
type Options struct {
	// Authorizers maps a channel name to the authorizer for its users.
	Authorizers map[string]policy.Authorizer
	Sessions    *session.Store
	Catalog     CapabilityResolver
	Invoker     Invoker
	Ingestor    ingest.Ingestor
	Transport   Transport
	Audit       Auditor
	Prefixes    command.Prefixes
	// Login answers /login; nil means login is not configured.
	Login LoginLinker

	AllowedGroups  directory.GroupSet
	SoulinkEnabled bool
	SoulinkAdminID string
	JoinURL        string

	Workers       int
	InvokeTimeout time.Duration
	IngestTimeout time.Duration
	// DrainTimeout bounds the processing of queued messages after Run's
	// context is cancelled.
	DrainTimeout time.Duration
	// Redact hides user IDs and message bodies in logs.
	Redact bool
}

// Dispatcher processes inbound messages. Messages of one user are handled in
// arrival order by the same worker; different users run in parallel.
type Dispatcher struct {
	opts Options
	bg   sync.WaitGroup
}

func New(opts Options) *Dispatcher {
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.InvokeTimeout <= 0 {
		opts.InvokeTimeout = 2 * time.Minute
	}
	if opts.IngestTimeout <= 0 {
		opts.IngestTimeout = 30 * time.Second
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 30 * time.Second
	}
	if opts.Ingestor == nil {
		opts.Ingestor = ingest.Noop{}
	}
	if opts.AllowedGroups == nil {
		opts.AllowedGroups = directory.NewGroupSet()
	}
	return &Dispatcher{opts: opts}
}

// Run consumes src until ctx is done, sharding messages over the workers by
// sender. It returns after every worker has drained. Messages already queued
// when ctx is cancelled are still processed, for at most DrainTimeout.
func (d *Dispatcher) Run(ctx context.Context, src Source) error {
	workCtx, cancelWork := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelWork()
	var drain *time.Timer
	var drainMu sync.Mutex
	stopDrain := context.AfterFunc(ctx, func() {
		drainMu.Lock()
		drain = time.AfterFunc(d.opts.DrainTimeout, cancelWork)
		drainMu.Unlock()
	})
	defer func() {
		stopDrain()
		drainMu.Lock()
		if drain != nil {
			drain.Stop()
		}
		drainMu.Unlock()
	}()

	shards := make([]chan *bus.InboundMessage, d.opts.Workers)
	var wg sync.WaitGroup
	for i := range shards {
		shards[i] = make(chan *bus.InboundMessage, 16)
		wg.Add(1)
		go func(in <-chan *bus.InboundMessage) {
			defer wg.Done()
			for msg := range in {
				d.Handle(workCtx, msg)
			}
		}(shards[i])
	}
	slog.Info("Dispatcher: started", "workers", d.opts.Workers)

	var err error
	for {
		msg, cerr := src.ConsumeInbound(ctx)
		if cerr != nil {
			if ctx.Err() == nil {
				err = cerr
			}
			break
		}
		select {
		case shards[shardFor(msg.SenderID, len(shards))] <- msg:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	for _, ch := range shards {
		close(ch)
	}
	wg.Wait()
	d.Wait()
	slog.Info("Dispatcher: stopped")
	return err
}

func shardFor(userID string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return int(h.Sum32() % uint32(n))
}

// Wait blocks until fire-and-forget side effects (group departures,
// ingestion) have finished.
func (d *Dispatcher) Wait() {
	d.bg.Wait()
}

// Handle runs one message through the pipeline.
func (d *Dispatcher) Handle(ctx context.Context, msg *bus.InboundMessage) (out Outcome) {
	if msg.TraceID == "" {
		msg.TraceID = uuid.NewString()
	}
	out = Outcome{Stage: StageReceived, Category: command.Unclassified, TraceID: msg.TraceID}
	log := slog.With(
		"trace_id", msg.TraceID,
		"channel", msg.Channel,
		"user", redactUser(d.opts.Redact, msg.SenderID),
	)

	defer func() {
		if r := recover(); r != nil {
			out.Err = fmt.Errorf("panic: %v", r)
			log.Error("Dispatcher: failed", "stage", out.Stage, "category", out.Category, "error", out.Err)
			out.Stage = StageFailed
			d.reply(ctx, msg, genericErrorReply)
		}
	}()

	if msg.Event != "" {
		return d.handleEvent(ctx, msg, out, log)
	}

	if msg.IsGroup() && !d.opts.AllowedGroups.Has(msg.ChatID) {
		log.Info("Dispatcher: message from group not on allow-list, leaving", "chat_id", msg.ChatID)
		d.leaveGroup(ctx, msg)
	}

	cl, err := Classify(msg, d.opts.Prefixes)
	out.Stage, out.Category = StageClassified, cl.Category
	if err != nil {
		var ue *UsageError
		if errors.As(err, &ue) {
			log.Info("Dispatcher: usage hint", "command", ue.Command)
			d.reply(ctx, msg, usageReply(ue, d.opts.Prefixes))
			out.Stage, out.Err = StageRejected, err
			return out
		}
		return d.fail(ctx, msg, out, log, err)
	}

	switch cl.Kind {
	case KindDrop:
		log.Debug("Dispatcher: dropped", "text", redactText(d.opts.Redact, msg.Content))
		return out
	case KindPassive:
		return d.handlePassive(ctx, msg, out, log)
	}

	out.Stage = StageAuthorizing
	out.Verdict = d.authorizer(msg.Channel).Authorize(ctx, policy.Request{
		UserID:         msg.SenderID,
		AdminID:        d.opts.SoulinkAdminID,
		RequiredGroups: d.opts.AllowedGroups,
		SoulinkEnabled: d.opts.SoulinkEnabled,
		TraceID:        msg.TraceID,
	})
	d.auditVerdict(ctx, msg, cl.Category, out.Verdict)
	if !out.Verdict.Allowed {
		log.Info("Dispatcher: rejected", "reason", out.Verdict.Reason, "tier", out.Verdict.Tier, "category", cl.Category)
		d.reply(ctx, msg, rejectionReply(out.Verdict.Reason, d.opts.JoinURL))
		out.Stage = StageRejected
		return out
	}
	out.Stage = StageAuthorized

	if cl.Kind == KindBuiltin {
		switch cl.Command {
		case command.Reset:
			n := d.opts.Sessions.ResetUser(msg.SenderID)
			log.Info("Dispatcher: sessions reset", "count", n)
			d.reply(ctx, msg, resetReply)
		case command.Help:
			d.reply(ctx, msg, helpText(d.opts.Prefixes))
		case command.Login:
			d.reply(ctx, msg, d.loginReply(ctx, msg, log))
		default:
			d.reply(ctx, msg, introduction)
		}
		out.Stage = StageCompleted
		return out
	}

	return d.route(ctx, msg, cl, out, log)
}

func (d *Dispatcher) loginReply(ctx context.Context, msg *bus.InboundMessage, log *slog.Logger) string {
	if d.opts.Login == nil {
		return loginUnavailableReply
	}
	link, expires, err := d.opts.Login.LoginURL(ctx, msg.SenderID)
	if err != nil {
		log.Error("Dispatcher: login link failed", "error", err)
		return loginErrorReply
	}
	log.Info("Dispatcher: login link issued")
	return loginReply(link, time.Until(expires))
}

// route runs the AUTHORIZED → COMPLETED|FAILED part of the pipeline.
func (d *Dispatcher) route(ctx context.Context, msg *bus.InboundMessage, cl Classification, out Outcome, log *slog.Logger) Outcome {
	key := session.Key{UserID: msg.SenderID, Category: cl.Category}
	sess := d.opts.Sessions.GetOrCreate(key)
	out.Stage = StageSessioned

	claimID := ""
	if msg.MessageID != "" {
		claimID = msg.Channel + ":" + msg.ChatID + ":" + msg.MessageID
		if !sess.Claim(claimID) {
			log.Info("Dispatcher: duplicate delivery dropped", "message_id", msg.MessageID)
			out.Duplicate = true
			return out
		}
	}

	set, err := d.opts.Catalog.Resolve(cl.Category)
	if err != nil {
		sess.Release(claimID)
		return d.fail(ctx, msg, out, log, err)
	}
	out.Stage = StageRouted

	taskID := d.startTask(ctx, msg, cl)

	invokeCtx, cancel := context.WithTimeout(tools.WithUserID(ctx, msg.SenderID), d.opts.InvokeTimeout)
	reply, next, err := d.invoke(invokeCtx, set, sess.State(), cl.Arg)
	cancel()
	if err != nil {
		sess.Release(claimID)
		d.finishTask(ctx, taskID, timeline.TaskStatusFailed, "", err.Error())
		return d.fail(ctx, msg, out, log, err)
	}

	sess.Update(next)
	d.opts.Sessions.Touch(key)

	if err := d.opts.Transport.SendMessage(ctx, &bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		TraceID: msg.TraceID,
		Content: reply,
		ReplyTo: msg.MessageID,
	}); err != nil {
		d.finishTask(ctx, taskID, timeline.TaskStatusFailed, reply, err.Error())
		out.Stage, out.Err = StageFailed, err
		log.Error("Dispatcher: failed", "stage", StageRouted, "category", cl.Category, "error", err)
		return out
	}
	d.finishTask(ctx, taskID, timeline.TaskStatusCompleted, reply, "")
	log.Info("Dispatcher: completed", "category", cl.Category, "session_id", sess.ID,
		"text", redactText(d.opts.Redact, cl.Arg))
	out.Stage = StageCompleted
	return out
}

// invoke converts an agent panic into an error.
func (d *Dispatcher) invoke(ctx context.Context, set tools.CapabilitySet, st session.State, text string) (reply string, next session.State, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("agent panic: %v", r)
		}
	}()
	return d.opts.Invoker.Invoke(ctx, set, st, text)
}

func (d *Dispatcher) handlePassive(ctx context.Context, msg *bus.InboundMessage, out Outcome, log *slog.Logger) Outcome {
	if !d.opts.AllowedGroups.Has(msg.ChatID) {
		return out
	}
	out.Stage = StageAuthorizing
	out.Verdict = d.authorizer(msg.Channel).CheckGroups(ctx, msg.SenderID, d.opts.AllowedGroups)
	if !out.Verdict.Allowed {
		if out.Verdict.Reason == policy.ReasonDirectoryUnavailable {
			log.Warn("Dispatcher: ingestion skipped, directory unavailable")
		} else {
			log.Info("Dispatcher: ingestion skipped", "reason", out.Verdict.Reason)
		}
		out.Stage = StageRejected
		return out
	}
	out.Stage = StageAuthorized

	ep := ingest.Episode{
		Channel:   msg.Channel,
		ChatID:    msg.ChatID,
		UserID:    msg.SenderID,
		Text:      msg.Content,
		Timestamp: msg.Timestamp,
		MessageID: msg.MessageID,
	}
	d.background(ctx, d.opts.IngestTimeout, func(ctx context.Context) {
		if err := d.opts.Ingestor.IngestEpisode(ctx, ep); err != nil {
			log.Warn("Dispatcher: ingestion failed", "episode", ep.Name(), "error", err)
		}
	})
	out.Stage = StageCompleted
	return out
}

func (d *Dispatcher) handleEvent(ctx context.Context, msg *bus.InboundMessage, out Outcome, log *slog.Logger) Outcome {
	switch msg.Event {
	case bus.EventBotAdded:
		if !d.opts.AllowedGroups.Has(msg.ChatID) {
			log.Info("Dispatcher: added to group not on allow-list, leaving", "chat_id", msg.ChatID)
			d.leaveGroup(ctx, msg)
			out.Stage = StageRejected
			return out
		}
		log.Info("Dispatcher: added to group", "chat_id", msg.ChatID)
	case bus.EventBotRemoved:
		log.Info("Dispatcher: removed from group", "chat_id", msg.ChatID)
	}
	out.Stage = StageCompleted
	return out
}

func (d *Dispatcher) fail(ctx context.Context, msg *bus.InboundMessage, out Outcome, log *slog.Logger, err error) Outcome {
	log.Error("Dispatcher: failed", "stage", out.Stage, "category", out.Category, "error", err)
	d.reply(ctx, msg, genericErrorReply)
	out.Stage, out.Err = StageFailed, err
	return out
}

func (d *Dispatcher) authorizer(channel string) policy.Authorizer {
	if a, ok := d.opts.Authorizers[channel]; ok {
		return a
	}
	return denyAll{}
}

func (d *Dispatcher) reply(ctx context.Context, msg *bus.InboundMessage, text string) {
	err := d.opts.Transport.SendMessage(ctx, &bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		TraceID: msg.TraceID,
		Content: text,
		ReplyTo: msg.MessageID,
	})
	if err != nil {
		slog.Warn("Dispatcher: reply not sent", "trace_id", msg.TraceID, "error", err)
	}
}

func (d *Dispatcher) leaveGroup(ctx context.Context, msg *bus.InboundMessage) {
	channel, chatID := msg.Channel, msg.ChatID
	d.background(ctx, 30*time.Second, func(ctx context.Context) {
		if err := d.opts.Transport.LeaveGroup(ctx, channel, chatID); err != nil {
			slog.Warn("Dispatcher: leave group failed", "channel", channel, "chat_id", chatID, "error", err)
		}
	})
}

// background runs fn detached from ctx cancellation, bounded by timeout.
func (d *Dispatcher) background(ctx context.Context, timeout time.Duration, fn func(context.Context)) {
	d.bg.Add(1)
	go func() {
		defer d.bg.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("Dispatcher: background task panicked", "panic", r)
			}
		}()
		bgCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
		defer cancel()
		fn(bgCtx)
	}()
}

func (d *Dispatcher) auditVerdict(ctx context.Context, msg *bus.InboundMessage, cat command.Category, v policy.Verdict) {
	if d.opts.Audit == nil {
		return
	}
	err := d.opts.Audit.LogPolicyDecision(ctx, &timeline.PolicyDecisionRecord{
		TraceID:  msg.TraceID,
		Channel:  msg.Channel,
		ChatID:   msg.ChatID,
		Sender:   msg.SenderID,
		Category: string(cat),
		Tier:     v.Tier,
		Allowed:  v.Allowed,
		Reason:   string(v.Reason),
	})
	if err != nil {
		slog.Warn("Dispatcher: audit failed", "trace_id", msg.TraceID, "error", err)
	}
}

func (d *Dispatcher) startTask(ctx context.Context, msg *bus.InboundMessage, cl Classification) string {
	if d.opts.Audit == nil {
		return ""
	}
	task := &timeline.AgentTask{
		TraceID:   msg.TraceID,
		Channel:   msg.Channel,
		ChatID:    msg.ChatID,
		SenderID:  msg.SenderID,
		Category:  string(cl.Category),
		ContentIn: cl.Arg,
	}
	if msg.MessageID != "" {
		task.IdempotencyKey = msg.Channel + ":" + msg.ChatID + ":" + msg.MessageID
		// A retry after a failed turn reuses the row recorded for the
		// first delivery.
		prev, err := d.opts.Audit.GetTaskByIdempotencyKey(ctx, task.IdempotencyKey)
		if err != nil {
			slog.Warn("Dispatcher: audit failed", "trace_id", msg.TraceID, "error", err)
			return ""
		}
		if prev != nil {
			if err := d.opts.Audit.UpdateTaskStatus(ctx, prev.TaskID, timeline.TaskStatusProcessing, "", ""); err != nil {
				slog.Warn("Dispatcher: audit failed", "task_id", prev.TaskID, "error", err)
				return ""
			}
			return prev.TaskID
		}
	}
	created, err := d.opts.Audit.CreateTask(ctx, task)
	if err != nil {
		slog.Warn("Dispatcher: audit failed", "trace_id", msg.TraceID, "error", err)
		return ""
	}
	return created.TaskID
}

func (d *Dispatcher) finishTask(ctx context.Context, taskID, status, contentOut, errText string) {
	if d.opts.Audit == nil || taskID == "" {
		return
	}
	if err := d.opts.Audit.UpdateTaskStatus(ctx, taskID, status, contentOut, errText); err != nil {
		slog.Warn("Dispatcher: audit failed", "task_id", taskID, "error", err)
	}
}

// denyAll answers for channels without a configured directory.
type denyAll struct{}

func (denyAll) Authorize(ctx context.Context, req policy.Request) policy.Verdict {
	return policy.Verdict{Reason: policy.ReasonDirectoryUnavailable, Tier: policy.TierGroup, Ts: time.Now(), TraceID: req.TraceID}
}

func (denyAll) CheckGroups(ctx context.Context, userID string, required directory.GroupSet) policy.Verdict {
	return policy.Verdict{Reason: policy.ReasonDirectoryUnavailable, Tier: policy.TierGroup, Ts: time.Now()}
}
