// Package zalouser connects a Zalo personal account through the zca CLI.
//
// Inbound messages arrive from a long-lived `zca listen` stream, pass policy
// and mention gating, are coalesced per sender by a debouncer and published
// to the bus. Outbound sends are chunked, deduplicated through the outbound
// ledger and rate-limited per conversation.
//
// WARNING: Zalo personal accounts are an unofficial integration. The account
// may be locked or banned.
package zalouser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/zalouser/internal/bindings"
	"github.com/nextlevelbuilder/zalouser/internal/bus"
	"github.com/nextlevelbuilder/zalouser/internal/channels"
	"github.com/nextlevelbuilder/zalouser/internal/channels/zalouser/zca"
	"github.com/nextlevelbuilder/zalouser/internal/config"
	"github.com/nextlevelbuilder/zalouser/internal/history"
	"github.com/nextlevelbuilder/zalouser/internal/msgcache"
	"github.com/nextlevelbuilder/zalouser/internal/outbound"
)

// ChannelName is the bus name of the channel.
const ChannelName = "zalouser"

const (
	maxChannelRestarts = 10
	maxChannelBackoff  = 60 * time.Second

	inboundDedupeTTL = 20 * time.Minute
	inboundDedupeMax = 5000
)

var tracer = otel.Tracer("github.com/nextlevelbuilder/zalouser/internal/channels/zalouser")

// zcaClient is the zca command surface the channel drives.
type zcaClient interface {
	SendText(ctx context.Context, threadID string, isGroup bool, text string) (zca.SendResult, error)
	SendMedia(ctx context.Context, threadID string, isGroup bool, kind zca.MediaKind, url, caption string) (zca.SendResult, error)
	SendLink(ctx context.Context, threadID string, isGroup bool, url string) (zca.SendResult, error)
	React(ctx context.Context, threadID string, isGroup bool, msgID, cliMsgID, emoji string) error
	Undo(ctx context.Context, threadID string, isGroup bool, msgID, cliMsgID string) error
	Me(ctx context.Context) (zca.Profile, error)
}

// Deps are the process-wide stores the channel shares with the host. Nil
// fields get private instances.
type Deps struct {
	Ledger   *outbound.Ledger
	Cache    *msgcache.Cache
	History  *history.Buffers
	Bindings *bindings.Store
}

// Option customizes a Channel.
type Option func(*Channel)

// WithClient replaces the zca client.
func WithClient(cl zcaClient) Option { return func(c *Channel) { c.client = cl } }

// WithReadyInterval sets the `auth status` poll period.
func WithReadyInterval(d time.Duration) Option { return func(c *Channel) { c.readyInterval = d } }

// Channel is the Zalo personal-account channel.
type Channel struct {
	*channels.BaseChannel
	cfg            config.ZaloUserConfig
	accountID      string
	dmPolicy       string
	groupPolicy    string
	requireMention bool
	historyLimit   int
	readyInterval  time.Duration

	runner *zca.Runner
	client zcaClient

	ledger    *outbound.Ledger
	cache     *msgcache.Cache
	history   *history.Buffers
	bindings  *bindings.Store
	seen      *bus.DedupeCache
	limiter   *channels.SendLimiter
	debouncer *bus.Debouncer[InboundEvent]

	mu     sync.Mutex
	self   string
	stream *zca.Stream
	cancel context.CancelFunc
	group  *errgroup.Group

	stopCh   chan struct{}
	stopOnce sync.Once
}

// New creates a channel that runs zca through runner.
func New(cfg config.ZaloUserConfig, runner *zca.Runner, msgBus *bus.MessageBus, deps Deps, opts ...Option) *Channel {
	base := channels.NewBaseChannel(ChannelName, msgBus, cfg.AllowFrom)

	dmPolicy := cfg.DMPolicy
	if dmPolicy == "" {
		dmPolicy = string(channels.DMPolicyAllowlist)
	}
	groupPolicy := cfg.GroupPolicy
	if groupPolicy == "" {
		groupPolicy = string(channels.GroupPolicyAllowlist)
	}

	rate := cfg.SendRatePerSec
	if rate == 0 {
		rate = config.DefaultSendRate
	}
	burst := cfg.SendBurst
	if burst == 0 {
		burst = config.DefaultSendBurst
	}

	c := &Channel{
		BaseChannel:    base,
		cfg:            cfg,
		accountID:      cfg.Account(),
		dmPolicy:       dmPolicy,
		groupPolicy:    groupPolicy,
		requireMention: cfg.RequireMentionOrDefault(),
		historyLimit:   cfg.HistoryLimitOrDefault(),
		readyInterval:  zca.DefaultReadyInterval,
		runner:         runner,
		client:         zca.NewClient(runner),
		ledger:         deps.Ledger,
		cache:          deps.Cache,
		history:        deps.History,
		bindings:       deps.Bindings,
		seen:           bus.NewDedupeCache(inboundDedupeTTL, inboundDedupeMax),
		limiter:        channels.NewSendLimiter(rate, burst),
		stopCh:         make(chan struct{}),
	}
	if c.ledger == nil {
		c.ledger = outbound.NewLedger()
	}
	if c.cache == nil {
		c.cache = msgcache.New()
	}
	if c.history == nil {
		c.history = history.New()
	}
	if c.bindings == nil {
		c.bindings = bindings.NewStore()
	}
	for _, opt := range opts {
		opt(c)
	}

	c.debouncer = bus.NewDebouncer(bus.DebounceOptions[InboundEvent]{
		Delay:   cfg.DebounceDelay(),
		Key:     debounceKey,
		OnFlush: c.flush,
		OnError: func(key string, items []InboundEvent, err error) {
			slog.Warn("zalouser inbound flush failed", "key", key, "items", len(items), "error", err)
		},
	})

	if c.dmPolicy == string(channels.DMPolicyAllowlist) && len(cfg.AllowFrom) == 0 {
		slog.Warn("zalouser dm_policy is allowlist but allow_from is empty; all DMs will be dropped")
	}
	if c.groupPolicy == string(channels.GroupPolicyAllowlist) && len(cfg.GroupAllowFrom) == 0 {
		slog.Warn("zalouser group_policy is allowlist but group_allow_from is empty; all group messages will be dropped")
	}
	return c
}

// AccountID returns the account this channel serves.
func (c *Channel) AccountID() string { return c.accountID }

// SelfUID returns the logged-in user id, empty before Start.
func (c *Channel) SelfUID() string { return c.selfUID() }

func (c *Channel) selfUID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

func (c *Channel) setSelfUID(uid string) {
	c.mu.Lock()
	c.self = uid
	c.mu.Unlock()
}

// Start waits for a logged-in zca session, resolves the account's own uid and
// begins listening. It returns once the listener is running.
func (c *Channel) Start(ctx context.Context) error {
	slog.Warn("security.unofficial_api",
		"channel", ChannelName,
		"msg", "Zalo personal accounts are unofficial. The account may be locked or banned. Use at own risk.",
	)

	if err := zca.WaitReady(ctx, c.runner, c.readyInterval); err != nil {
		return fmt.Errorf("zalouser wait ready: %w", err)
	}
	me, err := c.client.Me(ctx)
	if err != nil {
		return fmt.Errorf("zalouser me: %w", err)
	}
	c.setSelfUID(me.UserID)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g, gctx := errgroup.WithContext(runCtx)

	stream, err := c.runner.Listen(gctx, c.handlers())
	if err != nil {
		cancel()
		return fmt.Errorf("zalouser listen: %w", err)
	}

	c.mu.Lock()
	c.stream = stream
	c.cancel = cancel
	c.group = g
	c.mu.Unlock()

	c.SetRunning(true)
	g.Go(func() error {
		c.listenLoop(gctx)
		return nil
	})

	slog.Info("zalouser listener started", "account", c.accountID, "uid", me.UserID, "name", me.DisplayName)
	return nil
}

// Stop shuts the listener down and flushes pending inbound bursts.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping zalouser channel", "account", c.accountID)
	c.stopOnce.Do(func() { close(c.stopCh) })

	c.mu.Lock()
	stream, cancel, g := c.stream, c.cancel, c.group
	c.mu.Unlock()

	if stream != nil {
		stream.Stop()
	}
	if cancel != nil {
		cancel()
	}
	if g != nil {
		_ = g.Wait()
	}
	c.debouncer.Stop()
	c.SetRunning(false)
	return nil
}

func (c *Channel) listenLoop(ctx context.Context) {
	defer c.SetRunning(false)
	for {
		c.mu.Lock()
		stream := c.stream
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			slog.Info("zalouser listener loop stopped (context)")
			return
		case <-c.stopCh:
			slog.Info("zalouser listener loop stopped")
			return
		case <-stream.Done():
		}

		select {
		case <-c.stopCh:
			return
		default:
		}
		slog.Warn("zalouser listener exited", "account", c.accountID, "error", stream.Wait())

		if !c.restartWithBackoff(ctx) {
			return
		}
	}
}

// restartWithBackoff attempts to restart the listener with exponential
// backoff. Returns true if the listen loop should continue.
func (c *Channel) restartWithBackoff(ctx context.Context) bool {
	for attempt := range maxChannelRestarts {
		delay := min(time.Duration(1<<uint(attempt+1))*time.Second, maxChannelBackoff)
		slog.Info("zalouser restarting listener", "attempt", attempt+1, "delay", delay)

		select {
		case <-ctx.Done():
			return false
		case <-c.stopCh:
			return false
		case <-time.After(delay):
		}

		if err := c.restart(ctx); err != nil {
			slog.Warn("zalouser restart failed", "attempt", attempt+1, "error", err)
			continue
		}
		return true
	}
	slog.Error("zalouser listener gave up after max restart attempts", "account", c.accountID)
	return false
}

func (c *Channel) restart(ctx context.Context) error {
	if err := zca.WaitReady(ctx, c.runner, c.readyInterval); err != nil {
		return fmt.Errorf("wait ready: %w", err)
	}
	stream, err := c.runner.Listen(ctx, c.handlers())
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	c.mu.Lock()
	c.stream = stream
	c.mu.Unlock()
	return nil
}

func (c *Channel) account(id string) (string, error) {
	if id == "" || id == c.accountID {
		return c.accountID, nil
	}
	return "", fmt.Errorf("zalouser: account %q is not served by this channel (have %q)", id, c.accountID)
}

var _ channels.ActionChannel = (*Channel)(nil)
