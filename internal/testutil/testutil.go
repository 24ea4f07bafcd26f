// Package testutil wires an in-memory store and the shared collaborators
// every service test needs.
package testutil

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	auditdomain "github.com/smallbiznis/stockledger/internal/audit/domain"
	auditrepository "github.com/smallbiznis/stockledger/internal/audit/repository"
	auditservice "github.com/smallbiznis/stockledger/internal/audit/service"
	"github.com/smallbiznis/stockledger/internal/clock"
	"github.com/smallbiznis/stockledger/internal/lock"
	"github.com/smallbiznis/stockledger/internal/migration"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Epoch is the fake clock's starting time in every test environment.
var Epoch = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

type Env struct {
	DB     *gorm.DB
	Log    *zap.Logger
	Node   *snowflake.Node
	Clock  *clock.FakeClock
	Locker lock.Locker
	Audit  auditdomain.Service
}

// New opens a private in-memory SQLite database with the full schema.
func New(t testing.TB) *Env {
	t.Helper()

	conn := NewDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	env := &Env{
		DB:     conn,
		Log:    zap.NewNop(),
		Node:   node,
		Clock:  clock.NewFakeClock(Epoch),
		Locker: lock.NewLocal(),
	}
	env.Audit = auditservice.NewService(auditservice.Params{
		DB:    conn,
		Log:   env.Log,
		GenID: node,
		Clock: env.Clock,
		Repo:  auditrepository.Provide(),
	})
	return env
}

func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", name)
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc:        func() time.Time { return time.Now().UTC() },
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, migration.AutoMigrate(conn))
	return conn
}
