package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"radsite/internal/auth"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "RAD site", cfg.Site.Title)
	assert.Equal(t, time.Hour, cfg.Site.SignedURLExpire)
	assert.Equal(t, 336*time.Hour, cfg.Site.SessionTTL)
	assert.Equal(t, "/api", cfg.Server.APIBasePath)
	assert.Equal(t, []string{"users", "contacts", "partners"}, cfg.Apps)
	assert.ErrorContains(t, cfg.Validate(), "secret_key")
}

func TestFromYAMLKeepsDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte(`
site:
  secret_key: s3cret
  minimum_auth_level: AuthLevel.IMPLIED
  login_exceptions: ["^/public/"]
apps: [users]
`))
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Site.SecretKey)
	assert.Equal(t, "/login", cfg.Site.LoginURL)
	assert.Equal(t, []string{"users"}, cfg.Apps)

	level, err := cfg.Site.Level()
	require.NoError(t, err)
	assert.Equal(t, auth.Implied, level)

	res, err := cfg.Site.Exceptions()
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.True(t, res[0].MatchString("/public/x"))

	cfg.Site.LoginExceptions = []string{"/static/", "/media/"}
	res, err = cfg.Site.Exceptions()
	require.NoError(t, err)
	assert.True(t, res[1].MatchString("/media/a.png"))
	assert.False(t, res[0].MatchString("/x/static/a.css"))
}

func TestValidate(t *testing.T) {
	cases := map[string]string{
		"bad level":      "site: {secret_key: x, minimum_auth_level: root}\napps: [a]",
		"bad exception":  "site: {secret_key: x, login_exceptions: ['(']}\napps: [a]",
		"login url":      "site: {secret_key: x, login_url: login}\napps: [a]",
		"api base":       "site: {secret_key: x}\nserver: {api_base_path: api}\napps: [a]",
		"no apps":        "site: {secret_key: x}\napps: []",
		"duplicate apps": "site: {secret_key: x}\napps: [a, a]",
		"empty app":      "site: {secret_key: x}\napps: ['']",
		"webhook url":    "site: {secret_key: x}\napps: [a]\nwebhooks: [{events: [action.called]}]",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(dir)
	assert.ErrorContains(t, err, "not found")

	cfg, err := LoadOptional(dir)
	require.NoError(t, err)
	assert.Nil(t, cfg)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "radsite.yml"), []byte(GenerateDefault("k")), 0o644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "k", cfg.Site.SecretKey)
	assert.Equal(t, "127.0.0.1:8000", cfg.Server.Addr)
}
