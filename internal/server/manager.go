package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"github.com/energizer-project/pingcache/internal/config"
	"github.com/energizer-project/pingcache/internal/db"
	"github.com/energizer-project/pingcache/internal/events"
	"github.com/energizer-project/pingcache/internal/motd"
	"github.com/energizer-project/pingcache/internal/network"
	"github.com/energizer-project/pingcache/internal/scheduler"
	"github.com/energizer-project/pingcache/internal/text"
)

var (
	// ErrNotReady is returned before the first successful reload.
	ErrNotReady = errors.New("responder has no content yet")

	// ErrInvalidConfig is returned when a reload is rejected by validation.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrNotStatic is returned by SetPlayers when the player count comes
	// from an external source.
	ErrNotStatic = errors.New("player count is not set manually")
)

const (
	occupancyTask = "occupancy"
	eventSource   = "manager"
)

// Options are the manager's collaborators. Config, Scheduler and Whitelist
// are required.
type Options struct {
	Config    *config.Config
	Bus       *events.EventBus
	Scheduler *scheduler.Scheduler
	Whitelist *db.WhitelistStore
	Audit     *db.AuditLog
	// Counter defaults to the source the players config selects.
	Counter motd.PlayerCounter
	// OnShutdown is called once when the shutdown scheduler finds the
	// server empty.
	OnShutdown func()
	Logger     zerolog.Logger
}

// Manager owns the installed content and serves it to the listener.
// Readers never block: the installed state is published through an atomic
// pointer and replaced wholesale on reload.
type Manager struct {
	cfg     *config.Config
	bus     *events.EventBus
	sched   *scheduler.Scheduler
	store   *db.WhitelistStore
	audit   *db.AuditLog
	counter motd.PlayerCounter
	source  string
	logger  zerolog.Logger

	state       atomic.Pointer[state]
	whitelist   atomic.Pointer[db.Matcher]
	maintenance atomic.Bool
	generation  atomic.Int64

	draining   atomic.Bool
	drainList  atomic.Pointer[db.Matcher]
	onShutdown func()
	stopOnce   sync.Once

	// reloadMu serializes rebuilds and whitelist edits.
	reloadMu sync.Mutex

	// updateMu serializes occupancy updates and state swaps so a swap
	// never lands between reading a count and patching it.
	updateMu     sync.Mutex
	updater      *motd.Updater
	lastOcc      motd.Occupancy
	lastUpdate   time.Time
	lastReported int
	haveReported bool
}

// NewManager creates a manager. Call Start to build the initial content.
func NewManager(opts Options) (*Manager, error) {
	if opts.Config == nil || opts.Scheduler == nil || opts.Whitelist == nil {
		return nil, errors.New("manager requires config, scheduler and whitelist store")
	}

	counter := opts.Counter
	source := "custom"
	if counter == nil {
		players := opts.Config.GetApplicationData().Players
		c, err := NewCounter(players)
		if err != nil {
			return nil, err
		}
		counter = c
		source = players.Source
	}
	switch counter.(type) {
	case *StaticCounter:
		source = SourceStatic
	case *RedisCounter:
		source = SourceRedis
	}

	return &Manager{
		cfg:        opts.Config,
		bus:        opts.Bus,
		sched:      opts.Scheduler,
		store:      opts.Whitelist,
		audit:      opts.Audit,
		counter:    counter,
		source:     source,
		onShutdown: opts.OnShutdown,
		logger:     opts.Logger,
	}, nil
}

// Start builds the initial content from the loaded configuration and
// starts the occupancy task.
func (m *Manager) Start(ctx context.Context) error {
	return m.rebuild(ctx, "startup", false)
}

// Reload re-reads the configuration file and replaces all content. On any
// error the installed content keeps serving.
func (m *Manager) Reload(ctx context.Context, actor string) error {
	return m.rebuild(ctx, actor, true)
}

func (m *Manager) rebuild(ctx context.Context, actor string, reread bool) error {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	started := time.Now()
	if reread && m.cfg.Path() != "" {
		if err := m.cfg.Reload(); err != nil {
			return err
		}
	}

	snap := m.cfg.Snapshot()
	result := config.ValidateSnapshot(&snap)
	for _, w := range result.Warnings {
		m.logger.Warn().Str("field", w.Field).Msg(w.Message)
	}
	if !result.IsValid() {
		var errs error
		for _, e := range result.Errors {
			errs = multierr.Append(errs, e)
		}
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errs)
	}

	next, err := m.build(snap)
	if err != nil {
		return err
	}

	matcher, err := m.seedWhitelist(snap.Maintenance.KickWhitelist)
	if err != nil {
		next.dispose()
		return err
	}

	policy, override, err := occupancyPolicy(snap)
	if err != nil {
		next.dispose()
		return err
	}
	updater := motd.NewUpdater(m.counter, policy, override, m.logger)

	m.updateMu.Lock()
	if !m.haveReported {
		if n, err := m.counter.PlayerCount(ctx); err == nil {
			m.lastReported = n
			m.haveReported = true
		} else {
			m.logger.Warn().Err(err).Msg("player count unavailable, showing zero")
		}
	}
	occ, err := updater.Apply(next.sets(), m.lastReported)
	if err != nil {
		m.logger.Error().Err(err).Int("failed", occ.Failed).Msg("initial occupancy did not fit some holders")
	}
	m.updater = updater
	m.lastOcc = occ
	m.lastUpdate = time.Now()
	m.whitelist.Store(matcher)
	old := m.state.Swap(next)
	m.maintenance.Store(snap.Maintenance.Enabled)
	m.drainList.Store(db.NewMatcher(snap.Shutdown.Whitelist))
	m.draining.Store(snap.Shutdown.Enabled)
	m.updateMu.Unlock()

	// The old task may be waiting on updateMu, so the restart happens
	// after it is released.
	old.dispose()
	rate := time.Duration(snap.Main.UpdateRateMillis) * time.Millisecond
	if err := m.sched.Every(occupancyTask, rate, m.tick); err != nil {
		return fmt.Errorf("failed to schedule occupancy updates: %w", err)
	}

	defStats, mStats := next.defaultSet.Stats(), next.maintenance.Stats()
	payload := events.ReloadPayload{
		Generation: next.generation,
		Holders:    defStats.Holders + mStats.Holders,
		Bytes:      defStats.Bytes + mStats.Bytes,
		Skipped:    next.problems,
		Duration:   time.Since(started),
	}
	m.logger.Info().
		Int64("generation", payload.Generation).
		Int("holders", payload.Holders).
		Int("bytes", payload.Bytes).
		Int("problems", payload.Skipped).
		Dur("took", payload.Duration).
		Str("actor", actor).
		Msg("content installed")
	m.emit(ctx, events.EventReload, payload)
	m.record(actor, "reload", fmt.Sprintf("generation %d", payload.Generation))
	return nil
}

// build renders both holder sets and the disconnect packets.
func (m *Manager) build(snap config.Snapshot) (*state, error) {
	renderer, err := text.ByName(snap.Main.Serializer)
	if err != nil {
		return nil, err
	}
	deps := motd.BuildDeps{
		Renderer: renderer,
		Favicons: motd.NewFaviconCache(snap.Dir, m.logger),
		Logger:   m.logger,
	}

	defaultSet, err := motd.BuildHolderSet("default", contentSet(snap.Main.ContentData, true), deps)
	if err != nil {
		return nil, fmt.Errorf("failed to build default content: %w", err)
	}
	maintenance, err := motd.BuildHolderSet("maintenance", contentSet(snap.Maintenance.ContentData, !snap.Maintenance.ShowVersion), deps)
	if err != nil {
		defaultSet.Dispose()
		return nil, fmt.Errorf("failed to build maintenance content: %w", err)
	}

	st := &state{
		generation:  m.generation.Inc(),
		builtAt:     time.Now(),
		snapshot:    snap,
		defaultSet:  defaultSet,
		maintenance: maintenance,
	}
	st.problems = defaultSet.Stats().Problems + maintenance.Stats().Problems
	if len(snap.Main.Descriptions) > 0 {
		st.announcement, _, _ = strings.Cut(renderer.Plain(snap.Main.Descriptions[0]), "\n")
	}

	if st.kick, err = newDisconnect(snap.Maintenance.KickMessage, renderer); err != nil {
		st.dispose()
		return nil, err
	}
	if st.login, err = newDisconnect(snap.Listener.LoginMessage, renderer); err != nil {
		st.dispose()
		return nil, err
	}
	return st, nil
}

func occupancyPolicy(snap config.Snapshot) (motd.OccupancyPolicy, motd.OccupancyOverride, error) {
	mode, err := motd.ParseMaxMode(snap.Main.MaxCountType)
	if err != nil {
		return motd.OccupancyPolicy{}, motd.OccupancyOverride{}, err
	}
	policy := motd.OccupancyPolicy{
		FakeAddSingle:  snap.Main.FakeOnlineAddSingle,
		FakeAddPercent: snap.Main.FakeOnlineAddPercent,
		MaxMode:        mode,
		MaxCount:       snap.Main.MaxCount,
	}
	override := motd.OccupancyOverride{
		Online: snap.Maintenance.OverrideOnline,
		Max:    snap.Maintenance.OverrideMaxOnline,
	}
	return policy, override, nil
}

// tick is the occupancy task body.
func (m *Manager) tick(ctx context.Context) {
	m.updateMu.Lock()
	st := m.state.Load()
	if st == nil || m.updater == nil {
		m.updateMu.Unlock()
		return
	}
	occ, err := m.updater.Tick(ctx, st.sets())
	if err != nil {
		m.updateMu.Unlock()
		m.logger.Warn().Err(err).Msg("occupancy update skipped")
		return
	}
	m.lastReported = occ.Reported
	m.haveReported = true
	m.lastOcc = occ
	m.lastUpdate = time.Now()
	m.updateMu.Unlock()

	m.emit(ctx, events.EventOccupancyUpdated, events.OccupancyPayload{
		Reported:          occ.Reported,
		Online:            occ.Online,
		Max:               occ.Max,
		MaintenanceOnline: occ.MaintenanceOnline,
		MaintenanceMax:    occ.MaintenanceMax,
		Failed:            occ.Failed,
	})
	m.stopIfEmpty(ctx, occ.Reported)
}

// SetMaintenance switches maintenance mode and persists the flag.
func (m *Manager) SetMaintenance(ctx context.Context, enabled bool, actor string) error {
	m.cfg.SetMaintenanceEnabled(enabled)
	prev := m.maintenance.Swap(enabled)

	var err error
	if m.cfg.Path() != "" {
		if err = m.cfg.Save(); err != nil {
			err = fmt.Errorf("maintenance switched but not persisted: %w", err)
		}
	}
	if prev != enabled {
		m.logger.Info().Bool("enabled", enabled).Str("actor", actor).Msg("maintenance mode changed")
		m.emit(ctx, events.EventMaintenanceChange, events.MaintenancePayload{Enabled: enabled, Actor: actor})
		m.record(actor, "maintenance", fmt.Sprintf("enabled=%t", enabled))
	}
	return err
}

// ToggleMaintenance flips maintenance mode and returns the new value.
func (m *Manager) ToggleMaintenance(ctx context.Context, actor string) (bool, error) {
	enabled := !m.maintenance.Load()
	return enabled, m.SetMaintenance(ctx, enabled, actor)
}

// Maintenance reports whether maintenance content is served.
func (m *Manager) Maintenance() bool {
	return m.maintenance.Load()
}

// SetShutdownScheduled switches the shutdown scheduler and persists the
// flag. While it is on, only addresses on the shutdown whitelist may
// connect.
func (m *Manager) SetShutdownScheduled(ctx context.Context, enabled bool, actor string) error {
	m.cfg.SetShutdownEnabled(enabled)
	prev := m.draining.Swap(enabled)

	var err error
	if m.cfg.Path() != "" {
		if err = m.cfg.Save(); err != nil {
			err = fmt.Errorf("shutdown scheduler switched but not persisted: %w", err)
		}
	}
	if prev != enabled {
		m.logger.Info().Bool("enabled", enabled).Str("actor", actor).Msg("shutdown scheduler changed")
		m.emit(ctx, events.EventShutdownScheduled, events.ShutdownPayload{Enabled: enabled, Actor: actor})
		m.record(actor, "shutdown_scheduler", fmt.Sprintf("enabled=%t", enabled))
	}
	if enabled {
		m.updateMu.Lock()
		reported, known := m.lastReported, m.haveReported
		m.updateMu.Unlock()
		if known {
			m.stopIfEmpty(ctx, reported)
		}
	}
	return err
}

// ToggleShutdownScheduled flips the shutdown scheduler and returns the new
// value.
func (m *Manager) ToggleShutdownScheduled(ctx context.Context, actor string) (bool, error) {
	enabled := !m.draining.Load()
	return enabled, m.SetShutdownScheduled(ctx, enabled, actor)
}

// ShutdownScheduled reports whether the server is draining for a shutdown.
func (m *Manager) ShutdownScheduled() bool {
	return m.draining.Load()
}

// OnConnect refuses connections from outside the shutdown whitelist while
// the shutdown scheduler is on.
func (m *Manager) OnConnect(remote net.Addr) bool {
	if !m.draining.Load() {
		return true
	}
	if m.drainList.Load().Contains(network.RemoteIP(remote)) {
		return true
	}
	m.logger.Debug().Str("remote", remote.String()).Msg("connection refused, shutdown scheduled")
	return false
}

// stopIfEmpty calls OnShutdown once the scheduler is on, on_zero_players
// is set and nobody is online.
func (m *Manager) stopIfEmpty(ctx context.Context, reported int) {
	st := m.state.Load()
	if st == nil || reported != 0 || !m.draining.Load() || !st.snapshot.Shutdown.OnZeroPlayers {
		return
	}
	m.stopOnce.Do(func() {
		m.logger.Info().Msg("no players online, shutting down")
		m.emit(ctx, events.EventShutdown, events.ShutdownPayload{
			Enabled: true,
			Actor:   "shutdown_scheduler",
			Reason:  "no players online",
		})
		m.record("shutdown_scheduler", "shutdown", "no players online")
		if m.onShutdown != nil {
			m.onShutdown()
		}
	})
}

// AddWhitelist allows an address or prefix to join during maintenance. It
// reports false when the entry was already present.
func (m *Manager) AddWhitelist(ctx context.Context, entry, note, actor string) (bool, error) {
	return m.editWhitelist(ctx, entry, actor, true, func(e string) (bool, error) {
		return m.store.Add(e, note)
	})
}

// RemoveWhitelist removes an entry. It reports false when the entry was
// not present.
func (m *Manager) RemoveWhitelist(ctx context.Context, entry, actor string) (bool, error) {
	return m.editWhitelist(ctx, entry, actor, false, m.store.Remove)
}

func (m *Manager) editWhitelist(ctx context.Context, entry, actor string, add bool, edit func(string) (bool, error)) (bool, error) {
	normalized, err := db.NormalizeEntry(entry)
	if err != nil {
		return false, err
	}

	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	changed, err := edit(normalized)
	if err != nil || !changed {
		return changed, err
	}
	matcher, err := m.loadWhitelist()
	if err != nil {
		return true, err
	}
	m.whitelist.Store(matcher)

	action := "whitelist_remove"
	if add {
		action = "whitelist_add"
	}
	m.logger.Info().Str("entry", normalized).Bool("added", add).Str("actor", actor).Msg("kick whitelist changed")
	m.emit(ctx, events.EventWhitelistChange, events.WhitelistPayload{
		Entry:   normalized,
		Added:   add,
		Actor:   actor,
		Entries: matcher.Len(),
	})
	m.record(actor, action, normalized)
	return true, nil
}

// Whitelist lists the persisted whitelist entries.
func (m *Manager) Whitelist() ([]db.WhitelistEntry, error) {
	return m.store.List()
}

func (m *Manager) seedWhitelist(entries []string) (*db.Matcher, error) {
	if err := m.store.Seed(entries); err != nil {
		return nil, fmt.Errorf("failed to seed kick whitelist: %w", err)
	}
	return m.loadWhitelist()
}

func (m *Manager) loadWhitelist() (*db.Matcher, error) {
	list, err := m.store.List()
	if err != nil {
		return nil, fmt.Errorf("failed to load kick whitelist: %w", err)
	}
	entries := make([]string, len(list))
	for i, e := range list {
		entries[i] = e.Entry
	}
	return db.NewMatcher(entries), nil
}

// SetPlayers sets the reported player count and patches it immediately.
func (m *Manager) SetPlayers(ctx context.Context, n int, actor string) (motd.Occupancy, error) {
	static, ok := m.counter.(*StaticCounter)
	if !ok {
		return motd.Occupancy{}, fmt.Errorf("%w: source is %s", ErrNotStatic, m.source)
	}
	if n < 0 {
		return motd.Occupancy{}, fmt.Errorf("player count must not be negative, got %d", n)
	}
	static.Set(n)
	m.tick(ctx)

	m.emit(ctx, events.EventPlayersSet, events.PlayersPayload{Count: n, Actor: actor})
	m.record(actor, "players", fmt.Sprintf("%d", n))
	return m.Occupancy(), nil
}

// Occupancy returns the values of the last update.
func (m *Manager) Occupancy() motd.Occupancy {
	m.updateMu.Lock()
	defer m.updateMu.Unlock()
	return m.lastOcc
}

func (m *Manager) activeSet() (*motd.HolderSet, error) {
	st := m.state.Load()
	if st == nil {
		return nil, ErrNotReady
	}
	if m.maintenance.Load() {
		return st.maintenance, nil
	}
	return st.defaultSet, nil
}

// Acquire returns a private copy of the response for req. A request that
// races a reload retries once against the new content.
func (m *Manager) Acquire(req motd.Request) (*motd.Lease, motd.Resolution, error) {
	for attempt := 0; ; attempt++ {
		set, err := m.activeSet()
		if err != nil {
			return nil, motd.Resolution{}, err
		}
		lease, res, err := set.Acquire(req)
		if errors.Is(err, motd.ErrHolderDisposed) && attempt == 0 {
			continue
		}
		return lease, res, err
	}
}

// Compat returns the structured form of the response for req.
func (m *Manager) Compat(req motd.Request) (motd.CompatPing, motd.Resolution, error) {
	for attempt := 0; ; attempt++ {
		set, err := m.activeSet()
		if err != nil {
			return motd.CompatPing{}, motd.Resolution{}, err
		}
		c, res, err := set.Compat(req)
		if errors.Is(err, motd.ErrHolderDisposed) && attempt == 0 {
			continue
		}
		return c, res, err
	}
}

// PingPolicy returns the installed ping logging and ordering flags.
func (m *Manager) PingPolicy() network.PingPolicy {
	st := m.state.Load()
	if st == nil {
		return network.PingPolicy{LogImproper: true}
	}
	return network.PingPolicy{
		LogPings:      st.snapshot.Main.LogPings,
		LogImproper:   st.snapshot.Main.LogImproperPings,
		AllowImproper: st.snapshot.Main.AllowImproperPings,
	}
}

// LoginDisconnect returns the packet that ends a login attempt from ip.
// kicked is true when the maintenance kick applies.
func (m *Manager) LoginDisconnect(ip net.IP, protocolNumber int, legacy bool) (packet []byte, kicked bool) {
	st := m.state.Load()
	if st == nil {
		return nil, false
	}
	if m.ShouldKick(ip) {
		m.emit(context.Background(), events.EventLoginKicked, events.ConnectionPayload{
			Remote:   ip.String(),
			Protocol: protocolNumber,
			Reason:   "maintenance",
		})
		return st.kick.For(protocolNumber, legacy), true
	}
	return st.login.For(protocolNumber, legacy), false
}

// ShouldKick reports whether a login from ip is refused with the
// maintenance kick message.
func (m *Manager) ShouldKick(ip net.IP) bool {
	st := m.state.Load()
	if st == nil || !m.maintenance.Load() || !st.snapshot.Maintenance.ShouldKickOnJoin {
		return false
	}
	return !m.whitelist.Load().Contains(ip)
}

// Announcement returns the text advertised to LAN clients.
func (m *Manager) Announcement() string {
	st := m.state.Load()
	if st == nil {
		return ""
	}
	if m.maintenance.Load() {
		return st.snapshot.Maintenance.VersionName
	}
	return st.announcement
}

// Generation returns the installed content generation, zero before the
// first successful build.
func (m *Manager) Generation() int64 {
	st := m.state.Load()
	if st == nil {
		return 0
	}
	return st.generation
}

// HolderInfo describes one installed holder.
type HolderInfo struct {
	Set       string `json:"set"`
	Generator string `json:"generator"`
	Era       string `json:"era"`
	Size      int    `json:"size"`
	Max       int    `json:"max"`
	Online    int    `json:"online"`
}

// Holders lists every installed holder with its current occupancy.
func (m *Manager) Holders() []HolderInfo {
	st := m.state.Load()
	if st == nil {
		return nil
	}
	var out []HolderInfo
	for _, set := range []*motd.HolderSet{st.defaultSet, st.maintenance} {
		set.EachGenerator(func(g *motd.Generator) {
			g.EachHolder(func(h *motd.Holder) {
				info := HolderInfo{
					Set:       set.Name(),
					Generator: g.Name(),
					Era:       h.Era().String(),
					Size:      h.Size(),
				}
				if max, online, err := h.Occupancy(); err == nil {
					info.Max, info.Online = max, online
				}
				out = append(out, info)
			})
		})
	}
	return out
}

// Status returns a point-in-time view of the manager.
func (m *Manager) Status() Status {
	st := m.state.Load()
	s := Status{
		Maintenance:       m.maintenance.Load(),
		ShutdownScheduled: m.draining.Load(),
		PlayerSource:      m.source,
	}
	if matcher := m.whitelist.Load(); matcher != nil {
		s.Whitelist = matcher.Len()
	}

	m.updateMu.Lock()
	s.Occupancy = m.lastOcc
	s.LastUpdate = m.lastUpdate
	m.updateMu.Unlock()

	if st == nil {
		return s
	}
	s.Generation = st.generation
	s.BuiltAt = st.builtAt
	s.Default = st.defaultSet.Stats()
	s.MaintenanceSet = st.maintenance.Stats()
	s.Problems = st.problems
	s.UpdateRate = time.Duration(st.snapshot.Main.UpdateRateMillis) * time.Millisecond
	return s
}

// Close stops the occupancy task and releases the content and the
// player counter.
func (m *Manager) Close() error {
	m.sched.Cancel(occupancyTask)

	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()
	m.updateMu.Lock()
	old := m.state.Swap(nil)
	m.updateMu.Unlock()
	old.dispose()

	var err error
	if c, ok := m.counter.(io.Closer); ok {
		err = multierr.Append(err, c.Close())
	}
	return err
}

func (m *Manager) emit(ctx context.Context, t events.EventType, payload interface{}) {
	if m.bus == nil {
		return
	}
	m.bus.Emit(ctx, events.New(t, eventSource, payload))
}

func (m *Manager) record(actor, action, detail string) {
	if m.audit == nil {
		return
	}
	if err := m.audit.Record(actor, action, detail); err != nil {
		m.logger.Warn().Err(err).Str("action", action).Msg("failed to write audit record")
	}
}
