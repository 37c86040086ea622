package laythe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/intrntsrfr/owo"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/codenu/laythe-v2/laythe.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

var (
	defaultLogWriter io.Writer = os.Stdout

	// presenceUpdateInterval is how often the custom status guild count
	// is refreshed.
	presenceUpdateInterval = 5 * time.Minute

	// settingSessionReapInterval is how often expired modify prompts are
	// swept out.
	settingSessionReapInterval = time.Minute
)

// Laythe is the main application struct. It owns the Discord session,
// the database handles, the badger store, the API server, and the
// runtime configuration.
type Laythe struct {
	dbNotifier DBNotifier
	config     *Config

	// db is the handle used for reads. It's the same underlying
	// connection as writeDB; the split mirrors where mutex-gated
	// writes matter for SQLite.
	db DBI

	// writeDB gates write/update/delete operations behind a mutex when
	// using SQLite.
	writeDB DBI

	// kv is the ephemeral badger store backing the experience cooldown
	// gate and the event-log message cache.
	kv *KVStore

	logger     *slog.Logger
	logHandler slog.Handler

	// Handles discord integration, sessions
	discord *Discord

	// Provides the back-end API for the dashboard
	api *API

	// owo uploads bulk-delete transcripts and error reports. Nil when
	// no API key is configured.
	owo *owo.Client

	// settingSessions tracks pending `/setting modify` prompts
	settingSessions *settingSessions

	// signalStop enables an explicit stop signal to be sent to the bot,
	// such as by the `/api/quit` endpoint
	signalStop chan struct{}

	// signalReady has a value sent on it once Run has finished
	// initializing: database, API, discord session and commands.
	signalReady chan struct{}

	// A signal is sent on this channel when shutdown finishes
	eventShutdown chan struct{}

	// prevents Run from executing concurrently
	runMu sync.Mutex

	// If true, the bot acknowledges commands with an error message and
	// grants no experience.
	paused atomic.Bool

	// The time Run was called
	startedAt time.Time

	// Indicates whether admin credentials have been set. If they
	// haven't, Run holds after the API starts, prior to connecting to
	// discord, so the bot can be configured via the dashboard first.
	pendingSetup atomic.Bool

	// getInteractionHandlerFunc returns the InteractionHandler for an
	// incoming interaction. Tests swap this for a mock.
	getInteractionHandlerFunc func(
		ctx context.Context,
		i *discordgo.InteractionCreate,
	) InteractionHandler

	// Runtime-configurable settings - things you may want to
	// change without restarting the bot.
	runtimeConfig *RuntimeConfig

	// protecc the runtime config
	cfgMu sync.RWMutex

	triggerRuntimeConfigRefreshCh chan bool
	triggerSettingRefreshCh       chan string
}

// RuntimeConfig returns a copy of the current runtime configuration
func (lt *Laythe) RuntimeConfig() RuntimeConfig {
	lt.cfgMu.RLock()
	defer lt.cfgMu.RUnlock()
	return *lt.runtimeConfig
}

// New creates and initializes a new Laythe instance: logging, the
// discord integration, the API server and the paste client. Database
// and badger connections are opened later, by Run.
func New(config *Config) (*Laythe, error) {
	var errs []error

	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres:
		//
	default:
		errs = append(
			errs,
			errors.New("invalid database type (must be 'sqlite' or 'postgres')"),
		)
	}

	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	lt := &Laythe{
		config:                        config,
		signalReady:                   make(chan struct{}, 1),
		eventShutdown:                 make(chan struct{}, 1),
		settingSessions:               newSettingSessions(),
		triggerRuntimeConfigRefreshCh: make(chan bool, 1),
		triggerSettingRefreshCh:       make(chan string, 1),
	}

	lt.logHandler = tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     lt.config.LogLevel,
			AddSource: true,
		},
	)

	lt.logger = slog.New(lt.logHandler)
	slog.SetDefault(lt.logger)

	if config.OwoAPIKey != "" {
		lt.owo = owo.NewClient(config.OwoAPIKey)
	}

	lt.config.Discord.httpClient = lt.config.HTTPClient

	disc, err := newDiscord(lt.config.Discord)
	if err != nil {
		errs = append(errs, err)
	}

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     lt.config.Discord.DiscordGoLogLevel,
				AddSource: true,
			},
		).WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
	)

	if disc != nil {
		disc.logger = slog.New(
			tint.NewHandler(
				defaultLogWriter, &tint.Options{
					Level:     lt.config.Discord.LogLevel,
					AddSource: true,
				},
			),
		).With(loggerNameKey, "discord")
		disc.lt = lt
		lt.discord = disc
	}

	api, err := newAPI(lt, config.API)
	errs = append(errs, err)
	lt.api = api

	return lt, errors.Join(errs...)
}

func (lt *Laythe) ValidateConfig() error {
	return structValidator.Struct(lt.config)
}

// RegisterSlashCommands sends the bot's application commands to the
// discord bulk overwrite endpoint.
func (lt *Laythe) RegisterSlashCommands(options ...discordgo.RequestOption) (
	[]*discordgo.ApplicationCommand,
	error,
) {
	return lt.discord.registerCommands(options...)
}

// Run starts the main loop of the bot: opens the database and badger
// store, starts the API, connects to discord, registers commands, and
// blocks until the context is canceled or a stop signal arrives.
func (lt *Laythe) Run(ctx context.Context) error {
	// prevents concurrent runs
	lt.runMu.Lock()
	defer lt.runMu.Unlock()

	lt.signalStop = make(chan struct{}, 1)

	lt.startedAt = time.Now()
	logger := lt.logger

	if err := lt.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	notifier, err := newDBNotifier(lt)
	if err != nil {
		logger.Error("error creating db notifier", tint.Err(err))
		return err
	}
	lt.dbNotifier = notifier

	ctx = WithLogger(ctx, logger)

	runtimeWG := &sync.WaitGroup{}

	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", lt.config))
	if lt.signalReady == nil {
		lt.signalReady = make(chan struct{}, 1)
	}

	// this is the 'runtime' context, which triggers a graceful shutdown
	// when canceled
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-lt.signalStop:
			lt.logger.Warn("got stop signal, canceling")
			cancel()
		case <-ctx.Done():
			lt.logger.Warn("context canceled, sending stop signal")
			lt.signalStop <- struct{}{}
			return
		}
	}()

	go func() {
		httpErr := lt.api.Serve(ctx)
		if httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
			lt.logger.ErrorContext(ctx, "error serving api HTTP", tint.Err(httpErr))
		}
	}()

	startCtx, startCancel := context.WithTimeout(ctx, lt.config.StartupTimeout)
	defer startCancel()

	initErr := make(chan error, 1)
	go func() {
		logger.Debug("initializing run...")
		initErr <- lt.initRun(startCtx)
	}()

	select {
	case <-startCtx.Done():
		return fmt.Errorf("startup cancelled or timed out")
	case err = <-initErr:
		if err != nil {
			logger.ErrorContext(ctx, "init error", tint.Err(err))
			if lt.api != nil && lt.api.listener != nil {
				go func() {
					if e := lt.api.listener.Close(); e != nil {
						logger.ErrorContext(ctx, "error closing listener", tint.Err(e))
					}
				}()
			}
			return err
		}
		logger.InfoContext(ctx, "init complete")
	}

	if setupErr := lt.waitOnSetup(ctx, logger, runtimeWG); setupErr != nil {
		return setupErr
	}

	if discErr := lt.initDiscordSession(ctx, runtimeWG); discErr != nil {
		lt.logger.ErrorContext(ctx, "error creating discord session", tint.Err(discErr))
		return discErr
	}

	lt.logger.InfoContext(ctx, "connecting to discord")
	if err = lt.discord.session.Open(); err != nil {
		logger.ErrorContext(ctx, "error connecting to discord!", tint.Err(err))
		return fmt.Errorf("error connecting to discord: %w", err)
	}

	if _, err = lt.RegisterSlashCommands(); err != nil {
		logger.ErrorContext(ctx, "error registering commands", tint.Err(err))
		return err
	}

	lt.startRuntimeConfigRefresher(ctx, runtimeWG, logger)
	lt.startSettingUpdatedListener(ctx, runtimeWG)
	lt.startPresenceUpdater(ctx, runtimeWG)
	lt.startSettingSessionReaper(ctx, runtimeWG)
	lt.startKVStoreGC(ctx, runtimeWG)

	lt.signalReady <- struct{}{}
	lt.logger.InfoContext(ctx, "sent ready signal")

	for _, channel := range []string{
		lt.dbNotifier.RuntimeConfigChannelName(),
		lt.dbNotifier.SettingUpdateChannelName(),
		lt.dbNotifier.StopChannelName(),
	} {
		if channel == "" {
			continue
		}
		runtimeWG.Add(1)
		go func(ch string) {
			defer runtimeWG.Done()
			if e := lt.dbNotifier.Listen(ctx, ch); e != nil {
				lt.logger.ErrorContext(
					ctx, "error listening to notify channel",
					tint.Err(e), "channel", ch,
				)
			}
		}(channel)
	}

	// block until something cancels the main runtime context - generally
	// from an interrupt, or the `/api/quit` endpoint
	<-ctx.Done()

	return lt.shutdown(ctx, runtimeWG)
}

// waitOnSetup blocks until admin credentials exist, when they weren't
// present at startup. This keeps the bot from processing commands
// before it can be configured or stopped via the dashboard.
func (lt *Laythe) waitOnSetup(
	ctx context.Context,
	logger *slog.Logger,
	runtimeWG *sync.WaitGroup,
) error {
	if !lt.pendingSetup.Load() {
		return nil
	}

	logger.WarnContext(
		ctx,
		fmt.Sprintf(
			"pending initial setup at: %s%s",
			lt.api.listener.Addr().String(),
			apiAdminSetup,
		),
	)
	pendingStateCh := make(chan struct{}, 1)
	go func() {
		for ctx.Err() == nil {
			var runtimeState RuntimeConfig
			getRuntimeStateErr := lt.db.DB().Last(&runtimeState).Error
			if getRuntimeStateErr != nil {
				logger.ErrorContext(
					ctx,
					"error getting runtime state",
					tint.Err(getRuntimeStateErr),
				)
			}
			if runtimeState.AdminUsername != "" && runtimeState.AdminPassword != "" {
				pendingStateCh <- struct{}{}
				return
			}
			time.Sleep(5 * time.Second)
		}
	}()

	select {
	case <-ctx.Done():
		logger.WarnContext(ctx, "context cancelled waiting on setup, exiting")
		return lt.shutdown(ctx, runtimeWG)
	case <-pendingStateCh:
		lt.pendingSetup.Store(false)
	}

	return nil
}

// initRun opens the database and badger store and loads the runtime
// configuration.
func (lt *Laythe) initRun(startCtx context.Context) error {
	lt.logger.Debug("initializing DB...")
	if err := lt.initDB(startCtx); err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	lt.logger.Debug("finished initializing DB")

	kv, err := NewKVStore(
		lt.config.KVStoreDir,
		lt.logger.With(loggerNameKey, "kv_store"),
	)
	if err != nil {
		return fmt.Errorf("error opening kv store: %w", err)
	}
	lt.kv = kv

	// load or create the DB state config - this tells the bot whether
	// it should start in a 'paused' state (to avoid a potential scenario
	// where we want to keep it paused, but it crashes and restarts in
	// an active state)
	var botState RuntimeConfig

	getStateErr := lt.db.DB().Last(&botState).Error
	if getStateErr != nil {
		if errors.Is(getStateErr, gorm.ErrRecordNotFound) {
			lt.pendingSetup.Store(true)
			botState = DefaultRuntimeConfig()

			if _, err = lt.writeDB.Create(startCtx, &botState); err != nil {
				return fmt.Errorf("error creating config: %w", err)
			}
		} else {
			return fmt.Errorf("error getting config: %w", getStateErr)
		}
	}
	if validationErr := structValidator.Struct(botState); validationErr != nil {
		return fmt.Errorf("invalid runtime config: %w", validationErr)
	}

	if botState.AdminUsername == "" || botState.AdminPassword == "" {
		lt.pendingSetup.Store(true)
	}
	lt.paused.Store(botState.Paused)
	lt.setRuntimeLevels(botState)
	lt.runtimeConfig = &botState

	return nil
}

func (lt *Laythe) initDB(ctx context.Context) error {
	logger, ok := ContextLogger(ctx)
	if !ok || logger == nil {
		logger = lt.logger
	}

	handler := tint.NewHandler(
		defaultLogWriter, &tint.Options{
			Level:     lt.config.DatabaseLogLevel,
			AddSource: true,
		},
	)

	gormLogger := newGORMLogger(handler, lt.config.DatabaseSlowThreshold)
	db, err := getDB(lt.config.DatabaseType, lt.config.Database, gormLogger)
	if err != nil {
		return fmt.Errorf("error opening database: %w", err)
	}

	writeDB := NewDatabase(
		db,
		lt.logger.With(loggerNameKey, "database"),
		lt.config.DatabaseType == dbTypePostgres,
	)
	lt.writeDB = writeDB
	lt.db = writeDB

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("error getting database connection: %w", err)
	}

	if lt.config.DatabaseType == dbTypeSQLite {
		sqlDB.SetMaxOpenConns(sqliteMaxOpenConns)
		sqlDB.SetMaxIdleConns(sqliteMaxIdleConns)
		sqlDB.SetConnMaxLifetime(sqliteMaxConnLifetime)
		for _, p := range sqliteExecPragma {
			if pragmaErr := db.WithContext(ctx).Exec(p).Error; pragmaErr != nil {
				return pragmaErr
			}
		}
	}

	logger.Debug("migrating database...")
	txn := db.WithContext(ctx).Begin()

	if err = txn.Migrator().AutoMigrate(
		&Setting{},
		&Warn{},
		&Level{},
		&RuntimeConfig{},
		&InteractionLog{},
	); err != nil {
		logger.Error("error migrating database", tint.Err(err))
		return fmt.Errorf("error migrating database: %w", err)
	}
	logger.Debug("finished migrating database")

	if commitErr := txn.Commit().Error; commitErr != nil {
		return fmt.Errorf("error committing transaction: %w", commitErr)
	}
	return nil
}

// initDiscordSession creates the discord session if needed and wires
// the gateway handlers.
func (lt *Laythe) initDiscordSession(ctx context.Context, runtimeWG *sync.WaitGroup) error {
	logger := lt.logger.With(loggerNameKey, "discord_session")

	if lt.discord.session == nil {
		disc, discErr := lt.discord.newSession()
		if discErr != nil {
			return fmt.Errorf("error creating discord session: %w", discErr)
		}
		lt.discord.session = disc
	}

	ctx = WithLogger(ctx, logger)

	if len(lt.discord.discordgoRemoveHandlerFuncs) > 0 {
		for _, h := range lt.discord.discordgoRemoveHandlerFuncs {
			h()
		}
	}

	identify := discordgo.Identify{Intents: lt.config.Discord.GatewayIntents}
	identify.Presence = getDiscordPresenceStatusUpdate(lt.RuntimeConfig(), 0)
	lt.discord.session.SetIdentify(identify)

	lt.discord.discordgoRemoveHandlerFuncs = []func(){
		lt.discord.session.AddHandler(lt.discord.handlerConnect()),
		lt.discord.session.AddHandler(lt.discord.handlerDisconnect()),
		lt.discord.session.AddHandler(lt.discord.handlerReady()),
		lt.discord.session.AddHandler(
			func(
				_ *discordgo.Session,
				i *discordgo.InteractionCreate,
			) {
				handler := lt.getInteractionHandlerFunc(ctx, i)
				runtimeWG.Add(1)
				go func() {
					defer runtimeWG.Done()
					lt.handleInteraction(ctx, handler)
				}()
			},
		),
		lt.discord.session.AddHandler(lt.handlerMessageCreate()),
		lt.discord.session.AddHandler(lt.handlerMessageUpdate()),
		lt.discord.session.AddHandler(lt.handlerMessageDelete()),
		lt.discord.session.AddHandler(lt.handlerMessageDeleteBulk()),
		lt.discord.session.AddHandler(lt.handlerGuildMemberAdd()),
		lt.discord.session.AddHandler(lt.handlerGuildMemberRemove()),
		lt.discord.session.AddHandler(lt.handlerGuildCreate()),
		lt.discord.session.AddHandler(lt.handlerGuildBanAdd()),
		lt.discord.session.AddHandler(lt.handlerGuildBanRemove()),
	}

	if lt.getInteractionHandlerFunc == nil {
		lt.getInteractionHandlerFunc = func(
			_ context.Context,
			i *discordgo.InteractionCreate,
		) InteractionHandler {
			return GatewayHandler{
				session:     lt.discord.session,
				interaction: i,
				mu:          &sync.RWMutex{},
				logger: lt.logger.With(
					slog.Group(
						"interaction",
						interactionLogAttrs(*i)...,
					),
				),
			}
		}
	}
	return nil
}

// handleInteraction is the entrypoint for incoming discord
// interactions: it logs the interaction, acknowledges it, and
// dispatches to the matching command handler.
func (lt *Laythe) handleInteraction(
	ctx context.Context,
	handler InteractionHandler,
) {
	i := handler.GetInteraction()
	logger := handler.Logger()

	discordUser := getDiscordUser(i)
	if discordUser == nil {
		logger.ErrorContext(
			ctx,
			"no user found in interaction",
			"interaction", structToSlogValue(i),
		)
		return
	}

	logger = logger.With(slog.Group("interaction", interactionLogAttrs(*i)...))
	ctx = WithLogger(ctx, logger)
	logger.InfoContext(ctx, "received new interaction", "user", structToSlogValue(discordUser))

	interactionLog, err := newInteractionLog(i, discordUser)
	if err != nil {
		logger.ErrorContext(ctx, "error marshaling interaction", tint.Err(err))
	}

	wg := &sync.WaitGroup{}
	defer wg.Wait()

	if interactionLog != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, createErr := lt.writeDB.Create(ctx, interactionLog); createErr != nil {
				logger.ErrorContext(ctx, "error logging interaction", tint.Err(createErr))
			}
		}()
	}

	if discordUser.Bot {
		logger.WarnContext(ctx, "user is bot, ignoring", "user", discordUser)
		return
	}

	if i.Type != discordgo.InteractionApplicationCommand {
		if i.Type == discordgo.InteractionPing {
			_ = handler.Respond(
				ctx, &discordgo.InteractionResponse{
					Type: discordgo.InteractionResponsePong,
				},
			)
		}
		return
	}

	commandName := i.ApplicationCommandData().Name

	if lt.RuntimeConfig().RecoverPanic {
		defer func() {
			if rc := recover(); rc != nil {
				lt.handleRecover(ctx, rc)
				editReply(ctx, handler, lt.RuntimeConfig().DiscordErrorMessage)
			}
		}()
	}

	if ackErr := handler.Respond(ctx, lt.discord.ackResponse(commandName)); ackErr != nil {
		logger.ErrorContext(ctx, "error acknowledging interaction", tint.Err(ackErr))
		return
	}

	if lt.paused.Load() {
		editReply(ctx, handler, "I'm paused right now. Try again later!")
		return
	}

	switch commandName {
	case DiscordSlashCommandLevel:
		lt.handleLevelCommand(ctx, handler)
	case DiscordSlashCommandLeaderboard:
		lt.handleLeaderboardCommand(ctx, handler)
	case DiscordSlashCommandLevelReset:
		lt.handleLevelResetCommand(ctx, handler)
	case DiscordSlashCommandWarn:
		lt.handleWarnCommand(ctx, handler)
	case DiscordSlashCommandPurge:
		lt.handlePurgeCommand(ctx, handler)
	case DiscordSlashCommandMute:
		lt.handleMuteCommand(ctx, handler)
	case DiscordSlashCommandUnmute:
		lt.handleUnmuteCommand(ctx, handler)
	case DiscordSlashCommandKick:
		lt.handleKickCommand(ctx, handler)
	case DiscordSlashCommandBan:
		lt.handleBanCommand(ctx, handler)
	case DiscordSlashCommandSetting:
		lt.handleSettingCommand(ctx, handler)
	default:
		logger.WarnContext(ctx, "unknown command", "command_name", commandName)
		editReply(ctx, handler, fmt.Sprintf("Unknown command: %s", commandName))
	}
}

func (lt *Laythe) handleRecover(ctx context.Context, rc any) {
	logger, ok := ContextLogger(ctx)
	if !ok || logger == nil {
		logger = lt.logger
	}
	logger.ErrorContext(
		ctx,
		"recovered from panic",
		"panic_arg", rc,
		"stack_trace", string(debug.Stack()),
	)
}

// notifySettingUpdated announces a settings write so other processes
// drop their cached copy.
func (lt *Laythe) notifySettingUpdated(ctx context.Context, guildID string) {
	if lt.dbNotifier == nil {
		return
	}
	lt.dbNotifier.SettingUpdated(ctx, guildID)
}

// startSettingUpdatedListener consumes setting invalidation signals
// (from the local notifier or postgres LISTEN) and drops the cached
// entry for the guild.
func (lt *Laythe) startSettingUpdatedListener(ctx context.Context, runtimeWG *sync.WaitGroup) {
	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		for {
			select {
			case <-ctx.Done():
				lt.logger.Info("context canceled, stopping setting listener")
				return
			case guildID := <-lt.triggerSettingRefreshCh:
				if guildID == "" {
					lt.logger.Warn("empty guild ID received, skipping refresh")
					continue
				}
				lt.db.SettingCache().Invalidate(guildID)
				lt.logger.Info("invalidated cached settings", "guild_id", guildID)
			}
		}
	}()
}

// startRuntimeConfigRefresher starts the runtime config refresher
// goroutine, and the TTL ticker that feeds it.
func (lt *Laythe) startRuntimeConfigRefresher(
	ctx context.Context,
	runtimeWG *sync.WaitGroup,
	logger *slog.Logger,
) {
	runtimeConfigTTL := lt.config.RuntimeConfigTTL

	if runtimeConfigTTL > 0 {
		runtimeWG.Add(1)
		go func() {
			defer runtimeWG.Done()
			ticker := time.NewTicker(runtimeConfigTTL)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					select {
					case lt.triggerRuntimeConfigRefreshCh <- false:
					//
					case <-time.After(5 * time.Second):
						logger.Warn("timed out sending config refresh signal")
					}
				}
			}
		}()
	}

	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()

		for {
			select {
			case <-ctx.Done():
				return
			case forceRefresh := <-lt.triggerRuntimeConfigRefreshCh:
				refreshCh := make(chan struct{}, 1)
				refreshCtx, refreshCancel := context.WithTimeout(ctx, 30*time.Second)
				go func() {
					lt.refreshRuntimeConfig(refreshCtx, forceRefresh)
					refreshCh <- struct{}{}
				}()
				select {
				case <-refreshCh:
				//
				case <-refreshCtx.Done():
					lt.logger.Warn("refresh runtime config timed out or interrupted")
				}
				refreshCancel()
			}
		}
	}()
}

func (lt *Laythe) refreshRuntimeConfig(ctx context.Context, force bool) {
	lt.cfgMu.Lock()
	defer lt.cfgMu.Unlock()

	runtimeConfigTTL := lt.config.RuntimeConfigTTL
	rollbackConfig := lt.runtimeConfig

	var refreshConfig RuntimeConfig
	if err := lt.db.DB().WithContext(ctx).Last(&refreshConfig).Error; err != nil {
		lt.logger.Error("error getting runtime config", tint.Err(err))
		return
	}

	lastUpdated := time.Since(time.UnixMilli(refreshConfig.UpdatedAt))
	if force || lastUpdated > runtimeConfigTTL {
		lt.unsafeRefreshRuntimeConfig(rollbackConfig, &refreshConfig)
	} else {
		lt.logger.Debug("runtime config is up to date, skipping refresh")
	}
}

// unsafeRefreshRuntimeConfig swaps in the given runtime configuration
// without locking the config mutex, and syncs the discord presence.
func (lt *Laythe) unsafeRefreshRuntimeConfig(
	rollbackConfig *RuntimeConfig,
	existingConfig *RuntimeConfig,
) {
	lt.paused.Store(existingConfig.Paused)

	pausedChanged := rollbackConfig.Paused != existingConfig.Paused
	statusChanged := rollbackConfig.DiscordCustomStatus != existingConfig.DiscordCustomStatus

	lt.runtimeConfig = existingConfig
	lt.setRuntimeLevels(*existingConfig)

	if pausedChanged || statusChanged {
		lt.refreshPresence()
	}

	lt.logger.Info("refreshed runtime config")
}

// refreshPresence pushes the current status (paused, or the custom
// status with the live guild count) to discord.
func (lt *Laythe) refreshPresence() {
	if lt.discord == nil || lt.discord.session == nil {
		return
	}
	status := getDiscordPresenceStatusUpdate(
		lt.RuntimeConfig(),
		lt.discord.session.GuildCount(),
	)
	var err error
	if status.Status == string(discordgo.StatusDoNotDisturb) {
		err = lt.discord.updateStatusComplex(
			discordgo.UpdateStatusData{
				AFK:    true,
				Status: status.Status,
			},
		)
	} else {
		err = lt.discord.updateCustomStatus(status.Status)
	}
	if err != nil {
		lt.logger.Error("error updating discord presence", tint.Err(err))
	}
}

// startPresenceUpdater periodically refreshes the custom status so the
// guild count stays current.
func (lt *Laythe) startPresenceUpdater(ctx context.Context, runtimeWG *sync.WaitGroup) {
	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		ticker := time.NewTicker(presenceUpdateInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				lt.refreshPresence()
			}
		}
	}()
}

func (lt *Laythe) startSettingSessionReaper(ctx context.Context, runtimeWG *sync.WaitGroup) {
	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		ticker := time.NewTicker(settingSessionReapInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				lt.settingSessions.expire()
			}
		}
	}()
}

func (lt *Laythe) startKVStoreGC(ctx context.Context, runtimeWG *sync.WaitGroup) {
	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := lt.kv.RunGC(); err != nil {
					lt.logger.Debug("badger GC pass", tint.Err(err))
				}
			}
		}
	}()
}

// setRuntimeLevels sets the logging levels for the bot's components
// based on the provided runtime configuration.
func (lt *Laythe) setRuntimeLevels(state RuntimeConfig) {
	lt.config.LogLevel.Set(state.LogLevel.Level())
	lt.config.Discord.LogLevel.Set(state.DiscordLogLevel.Level())
	lt.config.Discord.DiscordGoLogLevel.Set(state.DiscordGoLogLevel.Level())
	lt.config.API.LogLevel.Set(state.APILogLevel.Level())
	lt.config.DatabaseLogLevel.Set(state.DatabaseLogLevel.Level())
}

// Pause pauses the bot. While paused, commands are acknowledged with an
// error message and no experience is granted.
func (lt *Laythe) Pause(ctx context.Context) bool {
	prev := lt.paused.Swap(true)
	if prev {
		return false
	}

	lt.refreshPresence()
	if !lt.RuntimeConfig().Paused {
		if _, err := lt.writeDB.Update(
			ctx,
			lt.runtimeConfig,
			columnRuntimeConfigPaused,
			true,
		); err != nil {
			lt.logger.ErrorContext(ctx, "unable to set paused in db", tint.Err(err))
		}
	}
	return true
}

// Resume resumes command processing. It returns a bool indicating
// whether the bot was paused at the time the function was called.
func (lt *Laythe) Resume(ctx context.Context) bool {
	prev := lt.paused.Swap(false)
	if !prev {
		lt.logger.Warn("bot not paused")
		return false
	}
	lt.logger.InfoContext(ctx, "bot resumed")

	lt.refreshPresence()

	if lt.RuntimeConfig().Paused {
		if _, err := lt.writeDB.Update(
			ctx, lt.runtimeConfig, columnRuntimeConfigPaused, false,
		); err != nil {
			lt.logger.ErrorContext(ctx, "unable to set resumed in db", tint.Err(err))
		}
	}

	return true
}

func (lt *Laythe) shutdown(
	ctx context.Context,
	runtimeWG *sync.WaitGroup,
) error {
	lt.logger.WarnContext(ctx, "shutting down")
	defer func() {
		if lt.eventShutdown != nil {
			go func() {
				lt.eventShutdown <- struct{}{}
			}()
		}
	}()
	shutdownStart := time.Now()
	shutdownTimeout := lt.config.ShutdownTimeout
	if shutdownTimeout.Seconds() == 0 {
		lt.logger.Warn("immediate shutdown")
		go func() {
			_ = lt.api.httpServer.Close()
		}()
		return fmt.Errorf("shutdown did not complete in time")
	}
	shutdownDeadline := shutdownStart.Add(shutdownTimeout)

	announcementTicker := time.NewTicker(10 * time.Second)
	defer announcementTicker.Stop()

	lt.logger.InfoContext(
		ctx,
		"exiting!",
		"shutdown_timeout", lt.config.ShutdownTimeout,
		"shutdown_started", shutdownStart,
		"shutdown_deadline", shutdownDeadline,
	)

	closeCtx, closeCancel := context.WithDeadline(
		context.Background(),
		shutdownDeadline,
	)
	defer closeCancel()

	// Graceful shutdown - at least until closeCtx is closed
	gracefulShutdownCh := make(chan struct{}, 1)
	go func() {
		runtimeWG.Wait() // wait for anything spawned by the main processes
		lt.logger.InfoContext(
			ctx,
			"finished handling in-flight requests",
			"runtime_stop_duration", time.Since(shutdownStart),
		)
		stopWG := &sync.WaitGroup{}

		if lt.api.httpServer != nil {
			stopWG.Add(1)
			go func() {
				defer stopWG.Done()
				lt.logger.InfoContext(ctx, "stopping http server")
				_ = lt.api.httpServer.Shutdown(closeCtx)
				lt.logger.InfoContext(ctx, "http server stopped")
			}()
		}

		if lt.discord.session != nil {
			stopWG.Add(1)
			go func() {
				defer stopWG.Done()
				lt.logger.InfoContext(ctx, "closing discord session")
				_ = lt.discord.session.Close()
				lt.logger.InfoContext(ctx, "discord session closed")
				for _, h := range lt.discord.discordgoRemoveHandlerFuncs {
					h()
				}
			}()
		}

		if lt.kv != nil {
			stopWG.Add(1)
			go func() {
				defer stopWG.Done()
				lt.logger.InfoContext(ctx, "closing kv store")
				if closeErr := lt.kv.Close(); closeErr != nil {
					lt.logger.Error("error closing kv store", tint.Err(closeErr))
				}
			}()
		}

		go func() {
			lt.logger.InfoContext(ctx, "waiting graceful shutdown")
			stopWG.Wait()
			gracefulShutdownCh <- struct{}{}
		}()
	}()

	for {
		select {
		case <-gracefulShutdownCh:
			closeCancel()
			lt.logger.InfoContext(
				ctx,
				"shutdown complete",
				"shutdown_duration", time.Since(shutdownStart),
			)
			return nil
		case <-announcementTicker.C:
			lt.logger.Warn(
				fmt.Sprintf(
					"time until hard shutdown: %s",
					time.Until(shutdownDeadline).String(),
				),
			)
		case <-closeCtx.Done():
			lt.logger.Warn("shutdown did not finish in time, forcing close")
			go func() {
				_ = lt.api.httpServer.Close()
			}()
			return fmt.Errorf("shutdown did not complete in time")
		}
	}
}
