package laythe

import (
	"context"
	cryprand "crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
	ginPprof "github.com/gin-contrib/pprof"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/securecookie"
	gsessions "github.com/gorilla/sessions"
	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

const (
	pprofPrefix             = "/debug"
	apiPrefix               = "/api"
	apiPathQuit             = "/quit"
	apiPathLogin            = "/login"
	apiPathLogout           = "/logout"
	apiPathLoggedIn         = "/logged_in"
	apiHealthCheck          = "/healthz"
	apiPathConfig           = "/config"
	apiAdminSetup           = "/admin/create"
	apiPathSetup            = "/setup"
	apiPathSetupStatus      = "/setup/status"
	apiPathUserinfos        = "/userinfos"
	apiPathLevels           = "/levels"
	apiPathGuild            = "/guild/:id"
	apiPathSettings         = "/settings"
	apiPathWarns            = "/warns"
	apiPathInteractionLogs  = "/logs/interactions"
	apiPathRegisterCommands = "/discord/register_commands"

	apiPathDiscordGatewayBot = "/discord/gateway/bot"
)

const (
	xRequestIDHeader = "X-Request-ID"
	sessionVarName   = "user"
	sessionVarField  = "username"
)

var (
	structValidator = validator.New()
)

var (
	Ascending  Sort = "asc"
	Descending Sort = "desc"
)

// API is the HTTP server backing the dashboard.
//
// It encapsulates the gin engine, the session store, and the handlers
// for the admin and dashboard endpoints. Everything under /api requires
// an authenticated session; login is rate limited.
type API struct {
	config              *APIConfig
	httpServer          *http.Server
	listener            net.Listener
	engine              *gin.Engine
	store               CookieStore
	loginRequestLimiter *rate.Limiter
	requestMetrics      map[string]int
	requestMetricsMu    sync.Mutex
	logger              *slog.Logger

	handlers *APIHandlers
}

// newAPI initializes and returns a new instance of the API struct:
// session store, TLS config, middleware and routes.
func newAPI(lt *Laythe, config *APIConfig) (*API, error) {
	setupLogger := slog.New(
		tint.NewHandler(
			os.Stdout, &tint.Options{
				Level:     config.LogLevel,
				AddSource: true,
			},
		),
	)

	r := gin.New()

	api := &API{
		config:              config,
		engine:              r,
		requestMetrics:      map[string]int{},
		loginRequestLimiter: rate.NewLimiter(rate.Limit(1), 1),
	}
	apiHandlers := NewAPIHandlers(lt)
	api.handlers = apiHandlers
	api.store = apiHandlers.store
	_ = r.Use(sessions.Sessions(sessionVarName, apiHandlers.store))

	tlsCfg, e := tlsConfig(
		config.SSL.Cert,
		config.SSL.Key,
		config.SSL.TLSMinVersion,
	)
	if e != nil {
		return nil, fmt.Errorf("error loading SSL certs: %w", e)
	}

	httpServer := &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		TLSConfig:         tlsCfg,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}
	api.httpServer = httpServer
	api.logger = setupLogger.With(loggerNameKey, "api")

	corsConfig := config.CORS.GINConfig()
	if len(corsConfig.AllowOrigins) == 0 && api.config.Development {
		corsConfig.AllowOrigins = []string{"*"}
	}

	if !config.Development {
		r.Use(gin.Recovery())
	}
	r.Use(
		requestIDMiddleware(),
		ginLoggingMiddleware(),
		metricMiddleware(api),
		cors.New(corsConfig),
	)

	r.POST(apiPathLogin, apiHandlers.loginHandler)
	r.GET(apiHealthCheck, apiHandlers.healthCheck)
	r.POST(apiPathLogout, apiHandlers.logoutHandler)

	if config.Development {
		ginPprof.Register(r, pprofPrefix)
	}

	r.POST(apiPathSetup, apiHandlers.adminSetup)
	r.GET(apiPathSetupStatus, apiHandlers.setupStatus)

	protected := r.Group(apiPrefix)
	protected.Use(authMiddleware(lt))

	protected.GET(apiPathLoggedIn, apiHandlers.loggedIn)
	protected.POST(apiPathUserinfos, apiHandlers.getUserinfos)
	protected.POST(apiPathLevels, apiHandlers.getLevelProgress)
	protected.GET(apiPathGuild, apiHandlers.getGuild)
	protected.POST(apiPathSettings, apiHandlers.putSettings)
	protected.GET(apiPathWarns, apiHandlers.getWarns)
	protected.GET(apiPathInteractionLogs, apiHandlers.getInteractionLogs)
	protected.GET(apiPathConfig, apiHandlers.getConfig)
	protected.PATCH(apiPathConfig, apiHandlers.updateRuntimeConfig)
	protected.POST(apiPathQuit, apiHandlers.botQuit)
	protected.POST(
		apiPathRegisterCommands,
		apiHandlers.discordRegisterCommands,
	)
	protected.GET(apiPathDiscordGatewayBot, apiHandlers.getDiscordGatewayBot)

	return api, nil
}

func (a *API) Serve(ctx context.Context) error {
	if a.listener != nil {
		return a.httpServer.Serve(a.listener)
	}
	listenCfg := &net.ListenConfig{}
	ln, e := listenCfg.Listen(ctx, a.config.ListenNetwork, a.config.Listen)

	if e != nil {
		return e
	}
	ln = tls.NewListener(ln, a.httpServer.TLSConfig)
	a.listener = ln
	return a.httpServer.Serve(a.listener)
}

func (a *API) getSessionUsername(c *gin.Context) (string, error) {
	store := a.store
	session, err := store.Get(c.Request, sessionVarName)
	if err != nil {
		return "", err
	}
	username, ok := session.Values[sessionVarField]
	if !ok {
		return "", errors.New("username not found in session")
	}
	s, e := username.(string)
	if !e {
		return "", errors.New("username not a string")
	}
	return s, nil
}

type CookieStore interface {
	sessions.Store
}

func NewCookieStore(keyPairs ...[]byte) CookieStore {
	return &cookieStore{gsessions.NewCookieStore(keyPairs...)}
}

type cookieStore struct {
	*gsessions.CookieStore
}

func (c *cookieStore) Options(options sessions.Options) {
	c.CookieStore.Options = options.ToGorillaOptions()
}

// APIHandlers contains the handlers for the various API endpoints.
type APIHandlers struct {
	lt     *Laythe
	logger *slog.Logger
	store  CookieStore
}

// NewAPIHandlers initializes and returns a new instance of APIHandlers,
// deriving a session secret and configuring the cookie store.
func NewAPIHandlers(lt *Laythe) *APIHandlers {
	logger := lt.logger.With(loggerNameKey, "api")

	var secretKey []byte
	switch sk := lt.config.API.Secret; {
	case sk == "":
		logger.Warn(
			"api secret not set, generating random secret " +
				"(sessions will not persist across restarts)",
		)
		secretKey = securecookie.GenerateRandomKey(64)
	default:
		secretKey = derive64ByteKey(sk)
	}

	store := NewCookieStore(secretKey)
	sameSite := http.SameSiteStrictMode
	if lt.config.API.Development {
		sameSite = http.SameSiteNoneMode
	}
	store.Options(
		sessions.Options{
			HttpOnly: true,
			Secure:   true,
			MaxAge:   int(lt.config.API.SessionMaxAge.Seconds()),
			SameSite: sameSite,
		},
	)
	return &APIHandlers{lt: lt, logger: logger, store: store}
}

// setupStatus reports whether the initial admin setup is still pending.
func (h *APIHandlers) setupStatus(c *gin.Context) {
	c.JSON(http.StatusOK, setupResponse{Required: h.lt.pendingSetup.Load()})
}

// adminSetup handles the HTTP POST request for the initial admin setup.
// It only succeeds while setup is pending.
func (h *APIHandlers) adminSetup(c *gin.Context) {
	h.lt.cfgMu.Lock()
	defer h.lt.cfgMu.Unlock()

	if !h.lt.pendingSetup.Load() {
		c.JSON(http.StatusForbidden, httpError{Error: "Forbidden"})
		return
	}

	logger := ginContextLogger(c)
	logger.Info("first time admin setup")
	var adminSetup adminSetupPayload

	if e := c.ShouldBindJSON(&adminSetup); e != nil {
		logger.Error("bad payload", tint.Err(e))
		c.JSON(http.StatusBadRequest, gin.H{"error": e.Error()})
		return
	}

	currentState := h.lt.runtimeConfig

	username := adminSetup.Username

	password, err := HashPassword(adminSetup.Password)
	if err != nil {
		logger.Error("error hashing password", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			gin.H{"error": "error setting admin credentials"},
		)
		return
	}

	if _, err = h.lt.writeDB.Updates(
		context.Background(),
		currentState, map[string]any{
			columnRuntimeConfigAdminUsername: username,
			columnRuntimeConfigAdminPassword: password,
		},
	); err != nil {
		logger.Error("error updating admin credentials", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			gin.H{"error": "error updating admin credentials"},
		)
		return
	}
	h.lt.runtimeConfig = currentState
	h.lt.pendingSetup.Store(false)
	c.JSON(http.StatusCreated, gin.H{"message": "admin credentials set"})
}

// loginHandler validates the login payload against the stored admin
// credentials and creates a new session. Login attempts are rate
// limited.
func (h *APIHandlers) loginHandler(c *gin.Context) {
	logger := h.lt.logger
	if logger == nil {
		logger = slog.Default()
	}
	if !h.lt.api.loginRequestLimiter.Allow() {
		logger.Warn("login rate limited")

		c.AbortWithStatus(http.StatusTooManyRequests)
		return
	}

	var login userLogin
	if err := c.ShouldBindJSON(&login); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	runtimeConfig := h.lt.RuntimeConfig()
	if runtimeConfig.AdminUsername == "" || runtimeConfig.AdminPassword == "" {
		logger.Warn("admin username and password not set")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	if login.Username != runtimeConfig.AdminUsername {
		logger.Warn("admin username incorrect")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}
	valid, err := VerifyPassword(runtimeConfig.AdminPassword, login.Password)
	if err != nil {
		logger.Error("error verifying password", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			gin.H{"error": "Internal Server Error"},
		)
		return
	}
	if !valid {
		logger.Warn("invalid login attempt", "username", login.Username)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	session, err := h.lt.api.store.New(c.Request, sessionVarName)
	if err != nil {
		logger.Error("error creating session", tint.Err(err))

		sess, _ := h.store.Get(c.Request, sessionVarName)
		if sess != nil {
			sess.Values[sessionVarField] = ""
			_ = sess.Save(c.Request, c.Writer)
		}
		ginReplyError(c, "internal server error")
		return
	}
	if session == nil {
		logger.Error("didn't get session!?")
		ginReplyError(c, "internal server error")
		return
	}
	sameSite := http.SameSiteStrictMode
	if h.lt.api.config.Development {
		sameSite = http.SameSiteNoneMode
	}
	session.Options = &gsessions.Options{
		MaxAge:   int(h.lt.api.config.SessionMaxAge.Seconds()),
		SameSite: sameSite,
		HttpOnly: true,
		Secure:   true,
	}
	session.Values[sessionVarField] = login.Username
	err = session.Save(c.Request, c.Writer)
	if err != nil {
		logger.Error("error saving session", tint.Err(err))
		ginReplyError(c, "internal server error")
		return
	}
	logger.Info("saved user session", "username", login.Username)
	c.JSON(http.StatusOK, loggedInResponse{Username: login.Username})
}

func (h *APIHandlers) healthCheck(c *gin.Context) {
	c.JSON(
		http.StatusOK, healthCheckResponse{
			Paused:                  h.lt.paused.Load(),
			GuildCount:              h.lt.discord.session.GuildCount(),
			DiscordGatewayConnected: h.lt.discord.connected.Load(),
		},
	)
}

func (h *APIHandlers) logoutHandler(c *gin.Context) {
	logger := ginContextLogger(c)
	session, err := h.store.Get(c.Request, sessionVarName)
	if err != nil {
		logger.Error("error getting session", tint.Err(err))
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	session.Values[sessionVarField] = ""
	err = session.Save(c.Request, c.Writer)
	if err != nil {
		logger.Error("error saving cookie", tint.Err(err))
	}
	ginReplyMessage(c, "logged out")
}

// loggedIn returns the session username, or 401 if the user isn't
// authenticated.
func (h *APIHandlers) loggedIn(c *gin.Context) {
	username, err := h.lt.api.getSessionUsername(c)

	if err != nil {
		ginContextLogger(c).Warn(
			"error getting session username",
			tint.Err(err),
		)
		c.JSON(
			http.StatusUnauthorized,
			httpError{Error: "unauthorized"},
		)
		return
	}
	c.JSON(http.StatusOK, loggedInResponse{Username: username})
}

// getUserinfos resolves a batch of user IDs to display data. IDs that
// can't be resolved come back in the `unresolved` list rather than
// failing the request.
func (h *APIHandlers) getUserinfos(c *gin.Context) {
	log := ginContextLogger(c)

	var payload userinfosPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}

	seen := map[string]bool{}
	users := make([]userInfo, 0, len(payload.UserIDs))
	unresolved := make([]string, 0)

	for _, userID := range payload.UserIDs {
		if seen[userID] {
			continue
		}
		seen[userID] = true

		u, err := h.lt.discord.session.User(userID)
		if err != nil || u == nil {
			log.Warn("could not resolve user", "user_id", userID, tint.Err(err))
			unresolved = append(unresolved, userID)
			continue
		}
		users = append(
			users, userInfo{
				ID:         u.ID,
				Username:   u.Username,
				GlobalName: u.GlobalName,
				AvatarURL:  u.AvatarURL(""),
			},
		)
	}

	c.JSON(
		http.StatusOK, userinfosResponse{
			Users:      users,
			Unresolved: unresolved,
		},
	)
}

// getLevelProgress computes display values for raw exp/level pairs:
// the experience needed for the next level and the progress percentage
// through the current one.
func (h *APIHandlers) getLevelProgress(c *gin.Context) {
	var payload levelsPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}

	results := make([]levelProgress, len(payload.Levels))
	for ind, entry := range payload.Levels {
		results[ind] = levelProgress{
			UserID:          entry.UserID,
			Exp:             entry.Exp,
			Level:           entry.Level,
			NextLevelExp:    int64(RequiredExp(entry.Level + 1)),
			ProgressPercent: ProgressPercent(entry.Exp, entry.Level),
		}
	}
	c.JSON(http.StatusOK, gin.H{"levels": results})
}

// getGuild returns cached guild metadata. `?force=1` bypasses the
// cache and re-fetches from discord.
func (h *APIHandlers) getGuild(c *gin.Context) {
	log := ginContextLogger(c)
	guildID := c.Param("id")

	force := c.Query("force") != ""

	var guild *discordgo.Guild
	if !force {
		cached, err := h.lt.kv.GetGuild(guildID)
		if err == nil && cached != nil {
			guild = cached
		}
	}

	if guild == nil {
		fetched, err := h.lt.discord.session.Guild(guildID)
		if err != nil || fetched == nil {
			log.Warn("error fetching guild", "guild_id", guildID, tint.Err(err))
			c.JSON(http.StatusNotFound, httpError{Error: "guild not found"})
			return
		}
		guild = fetched
		if cacheErr := h.lt.kv.SetGuild(guild); cacheErr != nil {
			log.Warn("error caching guild", tint.Err(cacheErr))
		}
	}

	c.JSON(
		http.StatusOK, guildInfo{
			ID:          guild.ID,
			Name:        guild.Name,
			Icon:        guild.Icon,
			OwnerID:     guild.OwnerID,
			MemberCount: guild.MemberCount,
		},
	)
}

// putSettings replaces a guild's settings row with the posted one and
// notifies other processes so their caches drop the stale entry.
func (h *APIHandlers) putSettings(c *gin.Context) {
	log := ginContextLogger(c)

	var setting Setting
	if err := c.ShouldBindJSON(&setting); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}
	if setting.GuildID == "" {
		c.JSON(http.StatusBadRequest, httpError{Error: "guild_id is required"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := h.lt.writeDB.PutSetting(ctx, &setting); err != nil {
		log.Error("error saving settings", tint.Err(err))
		ginReplyError(c, "error saving settings")
		return
	}
	h.lt.notifySettingUpdated(ctx, setting.GuildID)
	c.Status(http.StatusNoContent)
}

// getWarns lists warnings for a guild, optionally filtered to a single
// user, with pagination.
func (h *APIHandlers) getWarns(c *gin.Context) {
	var query GetWarnsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: "invalid query parameters"})
		return
	}

	if query.Order == "" {
		query.Order = Descending
	}
	if query.Limit == 0 {
		query.Limit = 25
	}

	log := ginContextLogger(c)

	db := h.lt.db.DB().Model(&Warn{}).Where("guild_id = ?", query.GuildID)
	if query.UserID != "" {
		db = db.Where("user_id = ?", query.UserID)
	}

	var totalCount int64
	if err := db.Count(&totalCount).Error; err != nil {
		log.ErrorContext(c, "error counting warns", tint.Err(err))
		c.JSON(http.StatusInternalServerError, httpError{Error: "error retrieving warns"})
		return
	}

	switch query.Order {
	case Ascending:
		db = db.Order("date ASC")
	default:
		db = db.Order("date DESC")
	}

	var warns []Warn
	if err := db.Limit(query.Limit).Offset(query.Offset).Find(&warns).Error; err != nil {
		log.ErrorContext(c, "error retrieving warns", tint.Err(err))
		c.JSON(http.StatusInternalServerError, httpError{Error: "error retrieving warns"})
		return
	}

	c.JSON(
		http.StatusOK, gin.H{
			"total":  totalCount,
			"offset": query.Offset,
			"limit":  query.Limit,
			"warns":  warns,
		},
	)
}

// getInteractionLogs lists recorded slash interactions. It supports
// pagination and filtering by user ID, command name, and date range.
func (h *APIHandlers) getInteractionLogs(c *gin.Context) {
	var query GetInteractionLogsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: "invalid query parameters"})
		return
	}

	if query.Order == "" {
		query.Order = Descending
	}
	if query.Limit == 0 {
		query.Limit = 25
	}

	log := ginContextLogger(c)

	db := h.lt.db.DB().Model(&InteractionLog{}).Limit(query.Limit).Offset(query.Offset)

	if query.UserID != "" {
		db = db.Where("user_id = ?", query.UserID)
	}
	if query.GuildID != "" {
		db = db.Where("guild_id = ?", query.GuildID)
	}
	if query.CommandName != "" {
		db = db.Where("command_name = ?", query.CommandName)
	}

	if query.StartDate != "" {
		startDate, err := time.Parse("2006-01-02", query.StartDate)
		if err != nil {
			c.JSON(
				http.StatusBadRequest,
				httpError{Error: "invalid start_date format"},
			)
			return
		}
		db = db.Where("created_at >= ?", startDate.UnixMilli())
	}

	if query.EndDate != "" {
		endDate, err := time.Parse("2006-01-02", query.EndDate)
		if err != nil {
			c.JSON(
				http.StatusBadRequest,
				httpError{Error: "invalid end_date format"},
			)
			return
		}
		// Add one day to include the entire end date
		endDate = endDate.Add(24 * time.Hour)
		db = db.Where("created_at < ?", endDate.UnixMilli())
	}

	switch query.Order {
	case Ascending:
		db = db.Order("created_at asc")
	default:
		db = db.Order("created_at desc")
	}

	var logs []InteractionLog
	if err := db.Find(&logs).Error; err != nil {
		log.ErrorContext(
			c.Request.Context(),
			"error getting interaction logs",
			tint.Err(err),
		)
		c.JSON(
			http.StatusInternalServerError,
			httpError{Error: "error getting interaction logs"},
		)
		return
	}

	c.JSON(http.StatusOK, logs)
}

func (h *APIHandlers) getConfig(c *gin.Context) {
	botState := h.lt.RuntimeConfig()
	c.JSON(http.StatusOK, botState)
}

// updateRuntimeConfig handles the HTTP PATCH request to update the
// bot's runtime configuration. It validates the payload, persists the
// changes, updates log levels and discord presence, and notifies other
// processes to reload.
func (h *APIHandlers) updateRuntimeConfig(c *gin.Context) {
	lt := h.lt
	lt.cfgMu.Lock()
	defer lt.cfgMu.Unlock()

	ctx := context.Background()

	var updateRequest RuntimeConfigUpdate
	logger := ginContextLogger(c)
	if err := c.ShouldBindJSON(&updateRequest); err != nil {
		logger.Error("bad payload", tint.Err(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	existingConfig := lt.runtimeConfig
	rollbackConfig := *existingConfig

	updateData, err := json.Marshal(updateRequest)
	if err != nil {
		logger.ErrorContext(c, "error marshaling update request", tint.Err(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "error marshaling update request"})
		return
	}

	var updates map[string]any
	err = json.Unmarshal(updateData, &updates)
	if err != nil {
		logger.ErrorContext(c, "error unmarshalling update request", tint.Err(err))
		c.JSON(
			http.StatusInternalServerError,
			gin.H{"error": "error unmarshalling update request"},
		)
		return
	}
	logger.InfoContext(c, "applying updates", "updates", updates)

	var updateError error

	var statusCode int
	var ginResponse gin.H

	_ = h.lt.writeDB.Transaction(
		c,
		func(tx *gorm.DB) error {
			updateError = tx.Model(existingConfig).Updates(updates).Error
			if updateError != nil {
				statusCode = http.StatusInternalServerError
				ginResponse = gin.H{"error": "error updating config"}
				return updateError
			}

			updateError = structValidator.Struct(existingConfig)
			if updateError != nil {
				statusCode = http.StatusBadRequest
				ginResponse = gin.H{"error": "error validating config"}
				return updateError
			}
			return nil
		},
	)

	if updateError != nil {
		h.lt.runtimeConfig = &rollbackConfig
		logger.ErrorContext(c, "error updating config", tint.Err(updateError))
		c.JSON(statusCode, ginResponse)
		return
	}

	lt.setRuntimeLevels(*existingConfig)

	wasPaused := lt.paused.Swap(existingConfig.Paused)
	switch {
	case wasPaused && !existingConfig.Paused:
		logger.Info("unpaused bot")
	case existingConfig.Paused && !wasPaused:
		logger.Warn("paused bot")
	}

	if rollbackConfig.Paused != existingConfig.Paused ||
		rollbackConfig.DiscordCustomStatus != existingConfig.DiscordCustomStatus {
		lt.refreshPresence()
	}

	c.JSON(http.StatusAccepted, existingConfig)

	sent := h.lt.dbNotifier.ReloadRuntimeConfig(ctx)
	if !sent {
		logger.Error("error sending config update notification")
	}
}

// botQuit sends a stop signal to every bot process, initiating a
// graceful shutdown.
func (h *APIHandlers) botQuit(c *gin.Context) {
	log := ginContextLogger(c)
	log.Warn("sending stop signal")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	doneCh := make(chan struct{}, 1)
	go func() {
		h.lt.dbNotifier.Stop(ctx)
		doneCh <- struct{}{}
		close(doneCh)
	}()
	select {
	case <-doneCh:
		ginReplyMessage(c, "quitting")
	case <-ctx.Done():
		log.Warn("timeout sending stop signal")
		c.JSON(http.StatusGatewayTimeout, httpError{Error: "timeout sending stop signal"})
	}
}

// discordRegisterCommands pushes the slash command set to discord.
func (h *APIHandlers) discordRegisterCommands(c *gin.Context) {
	log := ginContextLogger(c)
	log.Info("registering commands")

	createdCommands, err := h.lt.discord.registerCommands()
	if err != nil {
		log.Error("error registering commands", tint.Err(err))
		c.JSON(http.StatusInternalServerError, httpError{Error: "error registering commands"})
		return
	}
	c.JSON(http.StatusCreated, createdCommands)
}

func (h *APIHandlers) getDiscordGatewayBot(c *gin.Context) {
	gb, err := h.lt.discord.session.GatewayBot(
		discordgo.WithRetryOnRatelimit(false),
		discordgo.WithRestRetries(1),
	)
	if err != nil {
		c.JSON(http.StatusInternalServerError, httpError{Error: "error fetching gateway bot"})
		return
	}
	c.JSON(http.StatusOK, gb)
}

// Pagination represents the pagination parameters for API requests.
type Pagination struct {
	Limit  int  `form:"limit" binding:"omitempty,min=1,max=100"`
	Order  Sort `form:"order" binding:"omitempty,oneof=asc desc"`
	Offset int  `form:"offset" binding:"omitempty,min=0"`
}

// GetWarnsQuery represents the query parameters for listing Warn
// records.
type GetWarnsQuery struct {
	Pagination
	GuildID string `form:"guild_id" binding:"required"`
	UserID  string `form:"user_id"`
}

// GetInteractionLogsQuery represents the query parameters for fetching
// InteractionLog records.
type GetInteractionLogsQuery struct {
	Pagination
	UserID      string `form:"user_id"`
	GuildID     string `form:"guild_id"`
	CommandName string `form:"command_name"`
	StartDate   string `form:"start_date" binding:"omitempty,datetime=2006-01-02"`
	EndDate     string `form:"end_date" binding:"omitempty,datetime=2006-01-02"`
}

// Sort represents the sorting order for queries.
type Sort string

// userinfosPayload is the request body for the bulk user resolution
// endpoint.
type userinfosPayload struct {
	UserIDs []string `json:"user_ids" binding:"required,min=1,max=100"`
}

// userInfo is the display data returned for a resolved user.
type userInfo struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	GlobalName string `json:"global_name"`
	AvatarURL  string `json:"avatar_url"`
}

type userinfosResponse struct {
	Users      []userInfo `json:"users"`
	Unresolved []string   `json:"unresolved"`
}

// levelsPayload is the request body for the level progress endpoint:
// raw exp/level pairs as stored.
type levelsPayload struct {
	Levels []levelEntry `json:"levels" binding:"required,min=1,max=1000"`
}

type levelEntry struct {
	UserID string `json:"user_id"`
	Exp    int64  `json:"exp" binding:"min=0"`
	Level  int64  `json:"level" binding:"min=0"`
}

// levelProgress is a level entry with display values attached.
type levelProgress struct {
	UserID          string `json:"user_id"`
	Exp             int64  `json:"exp"`
	Level           int64  `json:"level"`
	NextLevelExp    int64  `json:"next_level_exp"`
	ProgressPercent int64  `json:"progress_percent"`
}

// guildInfo is the guild metadata returned by the guild endpoint.
type guildInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Icon        string `json:"icon"`
	OwnerID     string `json:"owner_id"`
	MemberCount int    `json:"member_count"`
}

// loggedInResponse represents the response returned when a user is
// successfully logged in.
type loggedInResponse struct {
	Username string `json:"username"`
}

// healthCheckResponse represents the response structure for the health
// check endpoint.
type healthCheckResponse struct {
	Paused                  bool `json:"paused"`
	GuildCount              int  `json:"guild_count"`
	DiscordGatewayConnected bool `json:"discord_gateway_connected"`
}

// httpReply represents a standard HTTP response message.
type httpReply struct {
	Message string `json:"message"`
}

// httpError represents an error message returned to the client
type httpError struct {
	Error string `json:"error"`
}

// userLogin represents the payload for user login requests.
type userLogin struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// adminSetupPayload represents the payload for the initial admin setup.
type adminSetupPayload struct {
	Username        string `json:"username" binding:"required"`
	Password        string `json:"password" binding:"required,eqfield=ConfirmPassword"`
	ConfirmPassword string `json:"confirm_password" binding:"required"`
}

// setupResponse is the response struct for the 'setup status'
// endpoint. If an admin username/password haven't been set yet,
// Required will be true, indicating setup is needed.
type setupResponse struct {
	Required bool `json:"required"`
}

// authMiddleware returns a Gin middleware function for authentication.
//
// It retrieves the session from the request and checks if the user is
// authenticated. If the user is not authenticated, it aborts the
// request with a 401 Unauthorized status. While admin setup is pending,
// every protected route also returns 401.
func authMiddleware(lt *Laythe) gin.HandlerFunc {
	return func(c *gin.Context) {
		store := lt.api.store
		logger := lt.logger
		if logger == nil {
			logger = slog.Default()
		}
		if lt.pendingSetup.Load() {
			logger.Warn("admin username and password not set")
			c.AbortWithStatusJSON(
				http.StatusUnauthorized,
				httpError{Error: "unauthorized"},
			)
			return
		}

		session, err := store.Get(c.Request, sessionVarName)
		if err != nil {
			logger.Error("error getting session", tint.Err(err))
			c.AbortWithStatusJSON(
				http.StatusUnauthorized,
				httpError{Error: "unauthorized"},
			)
			return
		}

		if session == nil {
			logger.Error("session is nil")
			c.AbortWithStatusJSON(
				http.StatusUnauthorized,
				httpError{Error: "unauthorized"},
			)
			return
		}

		username, ok := session.Values[sessionVarField]

		if !ok || username == "" {
			logger.Warn(
				"username not found in session",
				"headers",
				c.Request.Header,
			)
			c.AbortWithStatusJSON(
				http.StatusUnauthorized,
				httpError{Error: "unauthorized"},
			)
			return
		}

		logger.Debug("got session", sessionVarField, username)

		c.Next()
	}
}

// requestIDMiddleware generates a Gin middleware function that assigns
// a unique request ID to each incoming request.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := generateRandomHexString(32)
		if err != nil {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		c.Set(xRequestIDHeader, id)
		if requestID, exists := c.Get(xRequestIDHeader); exists {
			c.Header(xRequestIDHeader, requestID.(string))
		}
		c.Next()
	}
}

// ginContextLogger returns the slog.Logger from the given gin context,
// or, if it doesn't exist, creates a logger with request details
// included, and sets the logger in the context so the next call to
// ginContextLogger will return the new logger.
func ginContextLogger(c *gin.Context) *slog.Logger {
	var requestLogger *slog.Logger
	logger, ok := c.Get(string(loggerContextKey))
	if ok {
		requestLogger, ok = logger.(*slog.Logger)
		if ok {
			return requestLogger
		}
	}
	requestLogger = slog.Default()
	requestID, _ := c.Get(xRequestIDHeader)
	path := c.Request.URL.Path
	raw := c.Request.URL.RawQuery
	if raw != "" {
		path = path + "?" + raw
	}

	requestLogger = requestLogger.With(
		slog.Group(
			"request",
			"method", c.Request.Method,
			"path", path,
			"remote_addr", c.Request.RemoteAddr,
			"remote_ip", c.RemoteIP(),
			"user_agent", c.Request.UserAgent(),
			"referer", c.Request.Referer(),
		),
		slog.Any(xRequestIDHeader, requestID),
	)
	c.Set(string(loggerContextKey), requestLogger)
	return requestLogger
}

// ginLoggingMiddleware returns a Gin middleware function for logging
// HTTP requests: method, path, duration, status and any errors.
func ginLoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestLogger := ginContextLogger(c)
		c.Next()
		latency := time.Since(start)

		var errs []error
		for _, e := range c.Errors.ByType(gin.ErrorTypePrivate) {
			errs = append(errs, *e)
		}
		if len(errs) > 0 {
			requestLogger.Error(
				fmt.Sprintf(
					"%s %s finished with errors",
					c.Request.Method,
					c.Request.URL,
				),
				"duration", latency,
				"errors", errs,
				slog.Group(
					"response",
					"status_code", c.Writer.Status(),
					"body_size", c.Writer.Size(),
				),
			)
		} else {
			requestLogger.Info(
				fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL),
				"duration", latency,
				slog.Group(
					"response",
					"status_code", c.Writer.Status(),
					"body_size", c.Writer.Size(),
				),
			)
		}
	}
}

// metricMiddleware returns a Gin middleware function for tracking API
// request metrics: it increments the request count for each unique
// combination of HTTP method and URL path.
func metricMiddleware(a *API) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer c.Next()

		a.requestMetricsMu.Lock()
		defer a.requestMetricsMu.Unlock()

		key := fmt.Sprintf("%s %s", c.Request.Method, c.Request.URL.Path)
		_, ok := a.requestMetrics[key]
		if !ok {
			a.requestMetrics[key] = 1
			return
		}
		a.requestMetrics[key]++
	}
}

// ginReplyMessage sends a JSON response with a message,
// with HTTP status code 200, via the gin context.
func ginReplyMessage(c *gin.Context, message string) {
	c.JSON(http.StatusOK, httpReply{Message: message})
}

// ginReplyError sends a JSON response with a message,
// with HTTP status code 500, via the gin context.
func ginReplyError(c *gin.Context, err string) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, httpError{Error: err})
}

// generateSelfSignedCert generates a self-signed TLS certificate and
// private key, valid from the current time for 1 year.
func generateSelfSignedCert(
	certFile string,
	keyFile string,
) (tls.Certificate, error) {
	priv, err := rsa.GenerateKey(cryprand.Reader, 2048)
	if err != nil {
		return tls.Certificate{}, err
	}

	certTemplate := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"Laythe"},
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(365 * 24 * time.Hour),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	derBytes, err := x509.CreateCertificate(
		cryprand.Reader,
		&certTemplate,
		&certTemplate,
		&priv.PublicKey,
		priv,
	)
	if err != nil {
		return tls.Certificate{}, err
	}

	certOut, err := os.Create(certFile)
	if err != nil {
		return tls.Certificate{}, err
	}
	defer func() {
		_ = certOut.Close()
	}()

	if err = pem.Encode(
		certOut,
		&pem.Block{Type: "CERTIFICATE", Bytes: derBytes},
	); err != nil {
		return tls.Certificate{}, err
	}

	keyOut, err := os.Create(keyFile)
	if err != nil {
		return tls.Certificate{}, err
	}
	defer func() {
		_ = keyOut.Close()
	}()

	privBytes := x509.MarshalPKCS1PrivateKey(priv)
	if err = pem.Encode(
		keyOut,
		&pem.Block{Type: "RSA PRIVATE KEY", Bytes: privBytes},
	); err != nil {
		return tls.Certificate{}, err
	}

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return tls.Certificate{}, err
	}

	return cert, nil
}

//nolint:gochecknoinits // gotta register the validators
func init() {
	structValidator.SetTagName("binding")
}
