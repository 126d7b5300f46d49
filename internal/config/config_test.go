package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
server:
  listenAddr: ":9000"
  postgresDsn: "host=db user=examwatch dbname=examwatch sslmode=disable"
  redisAddr: "redis:6379"
  logLevel: debug
directory:
  url: "ldaps://dc.school.local:636"
  bindDN: "cn=svc,ou=service,dc=school,dc=local"
  bindPassword: "secret"
  baseDN: "ou=people,dc=school,dc=local"
  searchTimeout: 3s
forensics:
  workers: 4
`

func noEnv(string) (string, bool) { return "", false }

func envMap(m map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := m[key]
		return v, ok
	}
}

func TestParseAndDefaults(t *testing.T) {
	c, err := Parse([]byte(sample))
	require.NoError(t, err)
	require.NoError(t, c.ApplyEnv(noEnv))
	c.ApplyDefaults()
	require.NoError(t, c.Validate())

	assert.Equal(t, ":9000", c.Server.ListenAddr)
	assert.Equal(t, "debug", c.Server.LogLevel)
	assert.Equal(t, 3*time.Second, c.Directory.SearchTimeout)
	assert.Equal(t, 7*time.Second, c.Directory.ReconnectInterval)
	assert.Equal(t, 15*time.Minute, c.Directory.IdleTimeout)
	assert.Equal(t, "physicalDeliveryOfficeName", c.Directory.ClassAttribute)
	assert.Equal(t, 3*time.Minute, c.Forensics.StaleThreshold)
	assert.Equal(t, 4, c.Forensics.Workers)

	d := c.Domain()
	assert.Equal(t, 3*time.Minute, d.StaleThreshold)
	assert.Equal(t, 4, d.Workers)
}

func TestApplyEnvOverrides(t *testing.T) {
	c, err := Parse([]byte(sample))
	require.NoError(t, err)

	err = c.ApplyEnv(envMap(map[string]string{
		"SERVICE_URL":            "ldap://other:389",
		"SERVICE_DN":             "cn=other",
		"SERVICE_PW":             "hunter2",
		"SEARCH_BASE":            "dc=other",
		"FORENSIC_STALE_MINUTES": "10",
		"REDIS_ADDR":             "",
	}))
	require.NoError(t, err)

	assert.Equal(t, "ldap://other:389", c.Directory.URL)
	assert.Equal(t, "cn=other", c.Directory.BindDN)
	assert.Equal(t, "hunter2", c.Directory.BindPassword)
	assert.Equal(t, "dc=other", c.Directory.BaseDN)
	assert.Equal(t, 10*time.Minute, c.Forensics.StaleThreshold)
	assert.Equal(t, "redis:6379", c.Server.RedisAddr, "empty env values do not override")
}

func TestApplyEnvRejectsBadStaleMinutes(t *testing.T) {
	var c Config
	err := c.ApplyEnv(envMap(map[string]string{"FORENSIC_STALE_MINUTES": "soon"}))
	assert.Error(t, err)
}

func TestValidateRequiresDirectory(t *testing.T) {
	var c Config
	c.Server.PostgresDsn = "host=db"
	c.ApplyDefaults()
	assert.Error(t, c.Validate())

	c.Directory.URL = "ldap://dc:389"
	c.Directory.BindDN = "cn=svc"
	c.Directory.BindPassword = "pw"
	c.Directory.BaseDN = "dc=school"
	assert.NoError(t, c.Validate())

	c.Server.LogLevel = "verbose"
	assert.Error(t, c.Validate())
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))
	t.Setenv("SERVICE_PW", "from-env")

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", c.Directory.BindPassword)
	assert.Equal(t, 30*time.Second, c.Directory.WatchInterval)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
