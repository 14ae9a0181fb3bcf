package config

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/stretchr/testify/suite"
)

// ConfigTestSuite 配置测试套件.
type ConfigTestSuite struct {
	suite.Suite
	tempDir string
}

func TestConfigSuite(t *testing.T) {
	suite.Run(t, new(ConfigTestSuite))
}

func (s *ConfigTestSuite) SetupTest() {
	s.tempDir = s.T().TempDir()
}

type routeConfig struct {
	ID   string   `mapstructure:"id"`
	From string   `mapstructure:"from"`
	To   []string `mapstructure:"to"`
}

type testConfig struct {
	Name            string        `mapstructure:"name"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	Routes          []routeConfig `mapstructure:"routes"`
	defaulted       bool
}

func (c *testConfig) ApplyDefaults() {
	c.defaulted = true
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 45 * time.Second
	}
}

func (c *testConfig) Validate() error {
	if c.Name == "" {
		return errors.New("name is required")
	}
	return nil
}

const yamlConfig = `
name: orders
routes:
  - id: r1
    from: direct:start
    to: [log:out, seda:next]
`

func (s *ConfigTestSuite) writeFile(name, content string) string {
	path := filepath.Join(s.tempDir, name)
	s.Require().NoError(os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (s *ConfigTestSuite) TestLoad_YAML() {
	cfg, err := Load[testConfig](s.writeFile("engine.yaml", yamlConfig))
	s.Require().NoError(err)

	s.Equal("orders", cfg.Name)
	s.True(cfg.defaulted)
	s.Equal(45*time.Second, cfg.ShutdownTimeout)
	s.Require().Len(cfg.Routes, 1)
	s.Equal("direct:start", cfg.Routes[0].From)
	s.Equal([]string{"log:out", "seda:next"}, cfg.Routes[0].To)
}

func (s *ConfigTestSuite) TestLoad_FileNotFound() {
	_, err := Load[testConfig](filepath.Join(s.tempDir, "missing.yaml"))
	s.ErrorIs(err, ErrFileNotFound)
}

func (s *ConfigTestSuite) TestLoad_ValidationFailed() {
	_, err := Load[testConfig](s.writeFile("bad.yaml", "routes: []\n"))
	s.ErrorIs(err, ErrValidation)
}

func (s *ConfigTestSuite) TestLoadFromBytes_JSON() {
	cfg, err := LoadFromBytes[testConfig]([]byte(`{"name":"billing","shutdown_timeout":"5s"}`), "json")
	s.Require().NoError(err)
	s.Equal("billing", cfg.Name)
	s.Equal(5*time.Second, cfg.ShutdownTimeout)
}

func (s *ConfigTestSuite) TestLoadFromBytes_InvalidContent() {
	_, err := LoadFromBytes[testConfig]([]byte("name: [unterminated"), "yaml")
	s.ErrorIs(err, ErrReadConfig)
}

func (s *ConfigTestSuite) TestEnvOverride() {
	s.T().Setenv("KIT_NAME", "from-env")
	cfg, err := Load[testConfig](s.writeFile("env.yaml", yamlConfig), WithEnvPrefix("KIT"))
	s.Require().NoError(err)
	s.Equal("from-env", cfg.Name)
}

func (s *ConfigTestSuite) TestWatch_InitialLoad() {
	cfg, err := Watch[testConfig](s.writeFile("watch.yaml", yamlConfig), func(*testConfig, error) {})
	s.Require().NoError(err)
	s.Equal("orders", cfg.Name)
}

func (s *ConfigTestSuite) TestWatch_DebouncesEvents() {
	path := s.writeFile("debounce.yaml", yamlConfig)
	var (
		calls atomic.Int32
		last  atomic.Value
	)
	_, err := Watch[testConfig](path, func(cfg *testConfig, err error) {
		if err == nil {
			calls.Add(1)
			last.Store(cfg.Name)
		}
	}, WithDebounce(300*time.Millisecond))
	s.Require().NoError(err)

	for _, name := range []string{"v1", "v2", "v3"} {
		s.Require().NoError(os.WriteFile(path, []byte(strings.Replace(yamlConfig, "orders", name, 1)), 0o644))
	}
	s.Eventually(func() bool { return last.Load() == "v3" }, 5*time.Second, 20*time.Millisecond)
	s.Equal(int32(1), calls.Load())
}

func (s *ConfigTestSuite) TestDecodeHooks() {
	type hooked struct {
		Name string   `mapstructure:"name"`
		To   []string `mapstructure:"to"`
	}
	upper := mapstructure.DecodeHookFuncKind(func(from, to reflect.Kind, data any) (any, error) {
		if from == reflect.String && to == reflect.String {
			return strings.ToUpper(data.(string)), nil
		}
		return data, nil
	})

	cfg, err := LoadFromBytes[hooked]([]byte("name: orders\nto: log:a,seda:b\n"), "yaml", WithDecodeHooks(upper))
	s.Require().NoError(err)
	s.Equal("ORDERS", cfg.Name)
	s.Equal([]string{"LOG:A", "SEDA:B"}, cfg.To)
}

func (s *ConfigTestSuite) TestGetConfigType() {
	s.Equal("yaml", GetConfigType("a.yml"))
	s.Equal("json", GetConfigType("a.JSON"))
	s.Equal("toml", GetConfigType("a.toml"))
	s.Equal("", GetConfigType("a.txt"))
}
