package database

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	gormlogger "gorm.io/gorm/logger"

	"github.com/Tsukikage7/integration-kit/logger"
)

// DatabaseTestSuite 数据库测试套件.
type DatabaseTestSuite struct {
	suite.Suite
	logger logger.Logger
}

func TestDatabaseSuite(t *testing.T) {
	suite.Run(t, new(DatabaseTestSuite))
}

func (s *DatabaseTestSuite) SetupSuite() {
	log, err := logger.NewLogger(logger.DefaultConfig())
	s.Require().NoError(err)
	s.logger = log
}

func (s *DatabaseTestSuite) TearDownSuite() {
	if s.logger != nil {
		_ = s.logger.Close()
	}
}

func (s *DatabaseTestSuite) TestDefaultConfig() {
	cfg := DefaultConfig()

	s.Equal(DriverSQLite, cfg.Driver)
	s.Equal(200*time.Millisecond, cfg.SlowThreshold)
	s.Equal("warn", cfg.LogLevel)
	s.Equal(20, cfg.Pool.MaxOpen)
	s.Equal(5, cfg.Pool.MaxIdle)
	s.Equal(time.Hour, cfg.Pool.MaxLifetime)
	s.NoError(cfg.Validate())
}

func (s *DatabaseTestSuite) TestConfig_Validate() {
	tests := []struct {
		name    string
		config  *Config
		wantErr error
	}{
		{"empty driver", &Config{DSN: "x"}, ErrEmptyDriver},
		{"empty dsn", &Config{Driver: DriverMySQL}, ErrEmptyDSN},
		{"unsupported driver", &Config{Driver: "oracle", DSN: "x"}, ErrUnsupportedDriver},
		{"bad log level", &Config{Driver: DriverPostgres, DSN: "x", LogLevel: "verbose"}, ErrInvalidLogLevel},
		{"valid", &Config{Driver: DriverPostgreSQL, DSN: "x", LogLevel: "info"}, nil},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			err := tt.config.Validate()
			if tt.wantErr == nil {
				s.NoError(err)
				return
			}
			s.ErrorIs(err, tt.wantErr)
		})
	}
}

func (s *DatabaseTestSuite) TestOpen_NilConfig() {
	_, err := Open(nil, s.logger)
	s.ErrorIs(err, ErrNilConfig)
}

func (s *DatabaseTestSuite) TestOpen_SQLite() {
	db, err := Open(&Config{Driver: DriverSQLite, DSN: "file::memory:", Pool: PoolConfig{MaxOpen: 1}}, s.logger)
	s.Require().NoError(err)
	defer func() { s.NoError(Close(db)) }()

	type row struct {
		ID   uint `gorm:"primaryKey"`
		Name string
	}
	s.Require().NoError(db.AutoMigrate(&row{}))
	s.Require().NoError(db.WithContext(context.Background()).Create(&row{Name: "a"}).Error)

	var count int64
	s.Require().NoError(db.Model(&row{}).Count(&count).Error)
	s.Equal(int64(1), count)
}

func (s *DatabaseTestSuite) TestOpen_WithTracing() {
	db, err := Open(&Config{Driver: DriverSQLite3, DSN: "file::memory:", EnableTracing: true}, nil)
	s.Require().NoError(err)
	s.NoError(Close(db))
}

func (s *DatabaseTestSuite) TestSQLLogger_LogMode() {
	l := newSQLLogger(logger.NewNop(), time.Second, gormlogger.Warn)
	quiet := l.LogMode(gormlogger.Silent).(*sqlLogger)

	s.Equal(gormlogger.Silent, quiet.level)
	s.Equal(gormlogger.Warn, l.level)
}

func (s *DatabaseTestSuite) TestClose_Nil() {
	s.NoError(Close(nil))
}
