package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/frontiertower/towerbot/internal/agent"
	"github.com/frontiertower/towerbot/internal/auth"
	"github.com/frontiertower/towerbot/internal/bus"
	"github.com/frontiertower/towerbot/internal/channels"
	"github.com/frontiertower/towerbot/internal/command"
	"github.com/frontiertower/towerbot/internal/config"
	"github.com/frontiertower/towerbot/internal/directory"
	"github.com/frontiertower/towerbot/internal/dispatch"
	"github.com/frontiertower/towerbot/internal/ingest"
	"github.com/frontiertower/towerbot/internal/policy"
	"github.com/frontiertower/towerbot/internal/provider"
	"github.com/frontiertower/towerbot/internal/session"
	"github.com/frontiertower/towerbot/internal/telegram"
	"github.com/frontiertower/towerbot/internal/timeline"
	"github.com/frontiertower/towerbot/internal/tools"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the gateway (webhook server, channels, dispatcher)",
	RunE:  runGateway,
}

var gatewaySignalNotify = signal.Notify
var gatewaySignalStop = signal.Stop

func init() {
	rootCmd.AddCommand(gatewayCmd)
}

func runGateway(cmd *cobra.Command, args []string) error {
	printHeader("🌐 TowerBot Gateway")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration:\n%w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	gatewaySignalNotify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer gatewaySignalStop(sigChan)
	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("Gateway: shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	gw, err := newGateway(cfg)
	if err != nil {
		return err
	}
	defer gw.Close()
	return gw.Run(ctx)
}

// gateway owns every long-lived component of the process.
type gateway struct {
	cfg        *config.Config
	bus        *bus.MessageBus
	sessions   *session.Store
	dispatcher *dispatch.Dispatcher
	timeline   *timeline.TimelineService
	ingestor   ingest.Ingestor
	graph      *ingest.GraphClient
	channels   []channels.Channel
	telegram   *channels.TelegramChannel
}

// newGateway wires the components. It fails when the capability catalog does
// not match the registered tools.
func newGateway(cfg *config.Config) (*gateway, error) {
	prefixes, err := command.NewPrefixes(cfg.Commands)
	if err != nil {
		return nil, fmt.Errorf("commands: %w", err)
	}
	prompts, err := tools.LoadPrompts(cfg.Prompts.File)
	if err != nil {
		return nil, err
	}
	catalog := tools.NewCatalog(prompts)

	if err := config.EnsureDir(filepath.Dir(cfg.Timeline.Path)); err != nil {
		return nil, fmt.Errorf("timeline dir: %w", err)
	}
	tl, err := timeline.NewTimelineService(cfg.Timeline.Path)
	if err != nil {
		return nil, fmt.Errorf("timeline: %w", err)
	}
	gw := &gateway{cfg: cfg, timeline: tl}

	httpClient := &http.Client{Timeout: cfg.Tools.HTTPTimeout}
	community := directory.NewCommunityClient(cfg.Community, httpClient)
	gw.graph = ingest.NewGraphClient(cfg.Ingest.SearchURL, httpClient)
	registry := buildRegistry(cfg, httpClient, gw.graph, community, tl)
	if err := catalog.Validate(registry); err != nil {
		gw.Close()
		return nil, err
	}

	prov, err := provider.Resolve(cfg)
	if err != nil {
		gw.Close()
		return nil, fmt.Errorf("provider: %w", err)
	}
	loop := agent.NewLoop(agent.LoopOptions{
		Provider:      prov,
		Registry:      registry,
		Model:         prov.DefaultModel(),
		MaxTokens:     cfg.Model.MaxTokens,
		Temperature:   cfg.Model.Temperature,
		MaxIterations: cfg.Model.MaxToolIterations,
		HistoryTurns:  cfg.Model.HistoryTurns,
	})

	gw.ingestor = ingest.Noop{}
	if cfg.Ingest.Enabled {
		k, err := ingest.NewKafkaIngestor(cfg.Ingest)
		if err != nil {
			gw.Close()
			return nil, fmt.Errorf("ingest: %w", err)
		}
		gw.ingestor = k
	}

	gw.bus = bus.NewMessageBus(cfg.Dispatch.QueueSize)
	gw.sessions = session.NewStore(session.DefaultTTL, time.Now)
	allowed := cfg.Access.AllowedGroups()
	authorizers := gw.buildChannels(community, allowed)

	var login dispatch.LoginLinker
	if l := auth.NewLinker(cfg.OAuth.BaseURL, cfg.OAuth.ClientID, cfg.Gateway.WebhookURL, tl); l != nil {
		login = l
	}

	gw.dispatcher = dispatch.New(dispatch.Options{
		Authorizers:    authorizers,
		Sessions:       gw.sessions,
		Catalog:        catalog,
		Invoker:        loop,
		Ingestor:       gw.ingestor,
		Transport:      gw.bus,
		Audit:          tl,
		Prefixes:       prefixes,
		Login:          login,
		AllowedGroups:  directory.NewGroupSet(allowed...),
		SoulinkEnabled: cfg.Access.SoulinkEnabled,
		SoulinkAdminID: cfg.Access.SoulinkAdminID,
		JoinURL:        cfg.Community.JoinURL,
		Workers:        cfg.Dispatch.Workers,
		InvokeTimeout:  cfg.Dispatch.InvokeTimeout,
		IngestTimeout:  cfg.Dispatch.IngestTimeout,
		DrainTimeout:   cfg.Dispatch.DrainTimeout,
		Redact:         cfg.App.IsProd(),
	})
	return gw, nil
}

func buildRegistry(cfg *config.Config, httpClient *http.Client, graph *ingest.GraphClient, community *directory.CommunityClient, tl *timeline.TimelineService) *tools.Registry {
	reg := tools.NewRegistry()
	reg.Register(tools.NewTowerInfoTool(cfg.Tools.TowerInfoPath))
	reg.Register(tools.NewCalendarTool(cfg.Tools.CalendarURL, httpClient))
	reg.Register(tools.NewCommunitiesTool(community))
	reg.Register(tools.NewConnectionsTool(graph))
	reg.Register(tools.NewManageMemoryTool(tl))
	reg.Register(tools.NewSearchMemoryTool(tl))
	return reg
}

// buildChannels creates the enabled channels and the authorizer for each.
// Every platform shares the community membership check.
func (gw *gateway) buildChannels(community directory.MembershipChecker, allowed []string) map[string]policy.Authorizer {
	cfg := gw.cfg
	authorizers := map[string]policy.Authorizer{}
	timeout := cfg.Access.DirectoryTimeout

	if tc := cfg.Channels.Telegram; tc.Enabled {
		client := telegram.NewClient(tc.Token, tc.APIBase, nil)
		known := directory.NewKnownGroups(append(append([]string{}, allowed...), cfg.Access.SoulinkGroupIDs...)...)
		gw.telegram = channels.NewTelegramChannel(tc, cfg.Gateway.WebhookSecret, client, known, gw.bus)
		gw.channels = append(gw.channels, gw.telegram)
		authorizers[gw.telegram.Name()] = policy.NewEngine(
			directory.Combine(directory.NewTelegramGroups(client, known), community), timeout)
	}
	if sc := cfg.Channels.Slack; sc.Enabled {
		ch := channels.NewSlackChannel(sc, nil, gw.bus)
		gw.channels = append(gw.channels, ch)
		authorizers[ch.Name()] = policy.NewEngine(
			directory.Combine(directory.NewSlackGroups(ch.API()), community), timeout)
	}
	if wc := cfg.Channels.WhatsApp; wc.Enabled {
		ch := channels.NewWhatsAppChannel(wc, gw.bus)
		gw.channels = append(gw.channels, ch)
		authorizers[ch.Name()] = policy.NewEngine(
			directory.Combine(directory.NewWhatsAppGroups(ch), community), timeout)
	}
	return authorizers
}

// Run starts every component and blocks until ctx is cancelled.
func (gw *gateway) Run(ctx context.Context) error {
	go gw.sessions.Run(ctx, gw.cfg.Session.SweepInterval)
	go func() { _ = gw.bus.DispatchOutbound(ctx) }()

	for _, ch := range gw.channels {
		if err := ch.Start(ctx); err != nil {
			return fmt.Errorf("start %s: %w", ch.Name(), err)
		}
		slog.Info("Gateway: channel started", "channel", ch.Name())
	}

	addr := fmt.Sprintf("%s:%d", gw.cfg.Gateway.Host, gw.cfg.Gateway.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           gw.mux(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Gateway: listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		select {
		case err := <-serverErr:
			slog.Error("Gateway: server failed", "error", err)
			stop()
		case <-runCtx.Done():
		}
	}()

	err := gw.dispatcher.Run(runCtx, gw.bus)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	for _, ch := range gw.channels {
		if serr := ch.Stop(); serr != nil {
			slog.Warn("Gateway: channel stop failed", "channel", ch.Name(), "error", serr)
		}
	}
	return err
}

func (gw *gateway) mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":         "ok",
			"version":        version,
			"sessions":       gw.sessions.Len(),
			"inbound_queue":  gw.bus.InboundSize(),
			"outbound_queue": gw.bus.OutboundSize(),
		})
	})
	if gw.telegram != nil {
		mux.Handle("/telegram", gw.telegram)
	}
	if gw.cfg.OAuth.Enabled() {
		mux.Handle(auth.CallbackPath, auth.CallbackHandler(gw.timeline))
	}
	if len(gw.cfg.Gateway.APIKeys) > 0 {
		api := auth.RequireAPIKey(gw.cfg.Gateway.APIKeys, ingest.NewGraphAPI(gw.graph))
		mux.Handle(ingest.GraphQueryPath, api)
		mux.Handle(ingest.GraphSearchPath, api)
	}
	return mux
}

// Close releases the ingestion writer and the audit database.
func (gw *gateway) Close() {
	if c, ok := gw.ingestor.(io.Closer); ok {
		if err := c.Close(); err != nil {
			slog.Warn("Gateway: ingestor close failed", "error", err)
		}
	}
	if gw.timeline != nil {
		_ = gw.timeline.Close()
	}
}
