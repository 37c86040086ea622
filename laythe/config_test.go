package laythe

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValidateDefaultRuntimeConfig(t *testing.T) {
	cfg := DefaultRuntimeConfig()
	cfg.LogLevel = "TRACE"
	err := structValidator.Struct(cfg)
	require.Error(t, err)
}

func DefaultTestConfig(t testing.TB) *Config {
	tmpdir := t.TempDir()
	cfg := DefaultConfig()

	cfg.DatabaseType = dbTypeSQLite
	cfg.Database = filepath.Join(tmpdir, fmt.Sprintf("%s.sqlite3", t.Name()))
	cfg.KVStoreDir = filepath.Join(tmpdir, "kv")
	cfg.StartupTimeout = 5 * time.Second
	cfg.ShutdownTimeout = 10 * time.Second
	cfg.RuntimeConfigTTL = 0
	cfg.API.CORS.AllowOrigins = []string{"*"}
	cfg.API.Development = true

	cfg.Discord.Token = fmt.Sprintf("token-%s", t.Name())
	cfg.Discord.ApplicationID = fmt.Sprintf("app-%s", t.Name())

	certfile := filepath.Join(tmpdir, "cert.pem")
	keyfile := filepath.Join(tmpdir, "key.pem")
	_, err := generateSelfSignedCert(certfile, keyfile)
	require.NoError(t, err)

	cfg.API.SSL.Cert = certfile
	cfg.API.SSL.Key = keyfile
	cfg.API.Secret = "aksdfjakjsfdajfefIJHShi sfEISHSIDF HSIHDF"

	logLevel := slog.LevelWarn
	cfg.LogLevel.Set(logLevel)
	cfg.Discord.LogLevel.Set(logLevel)
	cfg.Discord.DiscordGoLogLevel.Set(logLevel)
	cfg.DatabaseLogLevel.Set(logLevel)
	cfg.API.LogLevel.Set(logLevel)

	return cfg
}
