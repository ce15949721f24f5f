package gateway

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/stellarlinkco/aiteam/internal/bus"
	"github.com/stellarlinkco/aiteam/internal/channel"
	"github.com/stellarlinkco/aiteam/internal/config"
	"github.com/stellarlinkco/aiteam/internal/cron"
	"github.com/stellarlinkco/aiteam/internal/dispatch"
	"github.com/stellarlinkco/aiteam/internal/workflow"
)

// GatewayOptions extends Options with transport overrides.
type GatewayOptions struct {
	Options
	BotFactory    channel.BotFactory
	SignalChan    chan os.Signal // replaces SIGINT/SIGTERM handling
	CronStorePath string
}

// Gateway connects chat channels to the orchestrator core and runs the
// scheduled jobs.
type Gateway struct {
	*Core
	cfg        *config.Config
	bus        *bus.MessageBus
	channels   *channel.ChannelManager
	cron       *cron.Service
	signalChan chan os.Signal

	mu     sync.Mutex
	runCtx context.Context
	wg     sync.WaitGroup
	once   sync.Once

	turnsMu sync.Mutex
	turns   map[string]*turnQueue
}

// turnQueue holds the pending dialogue turns of one chat. At most one
// drain goroutine runs per queue.
type turnQueue struct {
	pending []bus.InboundMessage
	running bool
}

func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, GatewayOptions{})
}

func NewWithOptions(cfg *config.Config, opts GatewayOptions) (*Gateway, error) {
	g := &Gateway{
		cfg:        cfg,
		bus:        bus.NewMessageBus(cfg.Gateway.BufSize),
		signalChan: opts.SignalChan,
		runCtx:     context.Background(),
		turns:      make(map[string]*turnQueue),
	}

	coreOpts := opts.Options
	if coreOpts.Relay == nil {
		coreOpts.Relay = g.relay
	}
	core, err := NewCore(context.Background(), cfg, coreOpts)
	if err != nil {
		return nil, err
	}
	g.Core = core

	cronStorePath := opts.CronStorePath
	if cronStorePath == "" {
		cronStorePath = filepath.Join(config.DataDir(), "cron", "jobs.json")
	}
	g.cron = cron.NewService(cronStorePath)
	g.cron.OnJob = g.runJob

	var menu []channel.CommandSpec
	for _, c := range dispatch.Commands() {
		menu = append(menu, channel.CommandSpec{Name: c.Verb, Description: c.Description})
	}
	mgrOpts := []channel.ManagerOption{channel.WithCommands(menu)}
	if opts.BotFactory != nil {
		mgrOpts = append(mgrOpts, channel.WithBotFactory(opts.BotFactory))
	}
	chMgr, err := channel.NewChannelManager(cfg.Channels, g.bus, mgrOpts...)
	if err != nil {
		_ = core.Close()
		return nil, fmt.Errorf("create channel manager: %w", err)
	}
	g.channels = chMgr

	return g, nil
}

func (g *Gateway) runContext() context.Context {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.runCtx
}

// relay forwards workflow progress to the chat the directive came from.
func (g *Gateway) relay(origin dispatch.Origin, e workflow.LogEntry) {
	g.publish(g.runContext(), origin, fmt.Sprintf("[%s] %s", e.Source, e.Message))
}

func (g *Gateway) publish(ctx context.Context, origin dispatch.Origin, text string) {
	if origin.IsZero() || text == "" {
		return
	}
	g.bus.PublishOutbound(ctx, bus.OutboundMessage{
		Channel: origin.Channel,
		ChatID:  origin.ChatID,
		Content: text,
	})
}

// runJob is the cron handler: the health probe, or a directive dispatched as
// if an operator had typed it.
func (g *Gateway) runJob(ctx context.Context, job cron.CronJob) (string, error) {
	if job.Payload.Verb == cron.HealthVerb {
		return g.Health.Job(ctx)
	}

	origin := dispatch.Origin{}
	if job.Payload.Deliver {
		origin = dispatch.Origin{Channel: job.Payload.Channel, ChatID: job.Payload.To}
	}
	res := g.Dispatcher.Dispatch(ctx, dispatch.Command{
		Verb:   job.Payload.Verb,
		Arg:    job.Payload.Arg,
		Origin: origin,
	})
	reply := res.Reply()
	g.publish(ctx, origin, reply)

	switch res.Status {
	case dispatch.StatusFailed, dispatch.StatusBusy, dispatch.StatusUnknown, dispatch.StatusInvalid:
		return reply, fmt.Errorf("%s: %s", job.Payload.Directive(), res.Status)
	}
	return reply, nil
}

func (g *Gateway) ensureInternalJobs() error {
	_, err := g.cron.EnsureJob(cron.HealthJobName,
		cron.Schedule{Kind: cron.KindCron, Expr: g.cfg.Cron.HealthCheck},
		cron.Payload{Verb: cron.HealthVerb},
	)
	return err
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g.mu.Lock()
	g.runCtx = ctx
	g.mu.Unlock()

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		g.bus.DispatchOutbound(ctx)
	}()

	if err := g.channels.StartAll(ctx); err != nil {
		cancel()
		g.Shutdown()
		return fmt.Errorf("start channels: %w", err)
	}
	log.Printf("[gateway] channels started: %v", g.channels.EnabledChannels())

	if err := g.cron.Start(ctx); err != nil {
		log.Printf("[gateway] cron start warning: %v", err)
	}
	if err := g.ensureInternalJobs(); err != nil {
		log.Printf("[gateway] ensure health job warning: %v", err)
	}

	g.wg.Add(2)
	go func() {
		defer g.wg.Done()
		g.Health.Check(ctx)
	}()
	go func() {
		defer g.wg.Done()
		g.processLoop(ctx)
	}()

	log.Printf("[gateway] running, default agent %s", g.DefaultAgent)

	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
	}
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	log.Printf("[gateway] shutting down...")
	cancel()
	return g.Shutdown()
}

func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case msg := <-g.bus.Inbound:
			g.handle(ctx, msg)
		case <-ctx.Done():
			return
		}
	}
}

// handle routes one inbound message. Commands and media run on their own
// goroutine so a running workflow never blocks a busy reply. Dialogue turns
// from one chat are queued and answered in arrival order.
func (g *Gateway) handle(ctx context.Context, msg bus.InboundMessage) {
	log.Printf("[gateway] inbound from %s/%s: %s", msg.Channel, msg.SenderID, truncate(msg.Content, 80))

	if len(msg.Media) == 0 && !msg.IsCommand() {
		g.enqueueTurn(ctx, msg)
		return
	}

	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		origin := originOf(msg)
		g.publish(ctx, origin, g.reply(ctx, origin, msg))
	}()
}

func (g *Gateway) enqueueTurn(ctx context.Context, msg bus.InboundMessage) {
	key := msg.SessionKey()

	g.turnsMu.Lock()
	defer g.turnsMu.Unlock()
	q, ok := g.turns[key]
	if !ok {
		q = &turnQueue{}
		g.turns[key] = q
	}
	q.pending = append(q.pending, msg)
	if q.running {
		return
	}
	q.running = true
	g.wg.Add(1)
	go g.drainTurns(ctx, key, q)
}

// drainTurns answers queued turns until the queue is empty, then exits.
func (g *Gateway) drainTurns(ctx context.Context, key string, q *turnQueue) {
	defer g.wg.Done()
	for {
		g.turnsMu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			delete(g.turns, key)
			g.turnsMu.Unlock()
			return
		}
		msg := q.pending[0]
		q.pending = q.pending[1:]
		g.turnsMu.Unlock()

		origin := originOf(msg)
		g.publish(ctx, origin, g.reply(ctx, origin, msg))
	}
}

func originOf(msg bus.InboundMessage) dispatch.Origin {
	return dispatch.Origin{Channel: msg.Channel, ChatID: msg.ChatID}
}

func (g *Gateway) reply(ctx context.Context, origin dispatch.Origin, msg bus.InboundMessage) string {
	cmd, isCmd := dispatch.ParseCommand(msg.Content, origin)
	switch {
	case len(msg.Media) > 0 && !isCmd:
		cmd = dispatch.Command{Verb: "vision", Arg: msg.Content, Origin: origin}
		fallthrough
	case isCmd:
		cmd.Media = msg.Media
		return g.Dispatcher.Dispatch(ctx, cmd).Reply()
	}

	reply, err := g.Session.Send(ctx, g.DefaultAgent, msg.Content)
	if err != nil {
		log.Printf("[gateway] dialogue error: %v", err)
		return ""
	}
	return reply.Text
}

// Shutdown stops channels and cron, waits for in-flight handlers, drains
// consolidation and closes the store. It is safe to call more than once.
func (g *Gateway) Shutdown() error {
	var err error
	g.once.Do(func() {
		_ = g.channels.StopAll()
		g.cron.Stop()
		g.cron.Wait()

		done := make(chan struct{})
		go func() {
			g.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			log.Printf("[gateway] timed out waiting for in-flight messages")
		}

		err = g.Core.Close()
		log.Printf("[gateway] shutdown complete")
	})
	return err
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n]) + "..."
}
