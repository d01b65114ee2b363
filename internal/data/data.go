package data

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"time"

	"inviteserver/internal/biz"
	"inviteserver/internal/conf"
	entLogger "inviteserver/pkg/logger"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/XSAM/otelsql"
	"github.com/go-kratos/kratos/v2/log"
	_ "github.com/go-sql-driver/mysql"
	"github.com/google/wire"
	"go.opentelemetry.io/otel/attribute"
)

// ProviderSet 是 data 层对外暴露的依赖注入集合。
var ProviderSet = wire.NewSet(
	NewData,
	NewInviteConfig,

	NewLinkRepo,
	wire.Bind(new(biz.LinkRepo), new(*linkRepo)),
	NewIdentityVerifier,
	NewAccountRepo,
	NewSyncRepo,
	NewNotifier,

	// jsonrpc
	NewJsonrpcData,
	wire.Bind(new(biz.JsonrpcRepo), new(*JsonrpcData)),
)

// Data 聚合外部资源；没有配置 mysql 时 sqldb / drv 为空
type Data struct {
	log   *log.Helper
	sqldb *sql.DB
	drv   dialect.Driver
	conf  *conf.Data
}

// SQLDB 返回底层 DB，用于健康检查，可能为 nil
func (d *Data) SQLDB() *sql.DB {
	return d.sqldb
}

type pinger interface {
	PingContext(ctx context.Context) error
}

// waitForMySQLReady 容器启动时 mysql 可能晚于服务就绪，按 interval 重试直到 ctx 超时
func waitForMySQLReady(ctx context.Context, db pinger, interval time.Duration, l *log.Helper) error {
	var lastErr error
	for attempt := 1; ; attempt++ {
		if lastErr = db.PingContext(ctx); lastErr == nil {
			return nil
		}
		l.Warnf("mysql ping failed attempt=%d err=%v", attempt, lastErr)

		select {
		case <-ctx.Done():
			return fmt.Errorf("mysql not ready before timeout: %w", lastErr)
		case <-time.After(interval):
		}
	}
}

// NewData 由 wire 调用，用来统一管理资源和 cleanup。
func NewData(c *conf.Data, logger log.Logger) (*Data, func(), error) {
	l := log.NewHelper(log.With(logger, "module", "data"))

	d := &Data{log: l, conf: c}
	if c.Mysql == nil || c.Mysql.Dsn == "" {
		l.Info("mysql dsn empty, accounts go to remote provisioning service")
		return d, func() {}, nil
	}

	l.Info("init mysql(otelsql) start...")
	db, err := otelsql.Open(
		dialect.MySQL,
		c.Mysql.Dsn,
		otelsql.WithSpanOptions(otelsql.SpanOptions{
			OmitConnResetSession: true,
			OmitConnPrepare:      true,
			OmitConnQuery:        false,
			OmitRows:             true,
			OmitConnectorConnect: true,
		}),
		otelsql.WithAttributesGetter(func(
			ctx context.Context,
			method otelsql.Method,
			query string,
			args []driver.NamedValue,
		) []attribute.KeyValue {
			// 参数里有凭证哈希，只记录语句和参数个数
			return []attribute.KeyValue{
				attribute.String("db.statement", query),
				attribute.Int("db.sql.args", len(args)),
			}
		}),
	)
	if err != nil {
		l.Errorf("failed to open mysql connection: %v", err)
		return nil, nil, err
	}

	pingTimeout := c.Mysql.PingTimeout.AsDuration()
	if pingTimeout <= 0 {
		pingTimeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if err := waitForMySQLReady(ctx, db, time.Second, l); err != nil {
		_ = db.Close()
		l.Errorf("mysql ping failed: %v", err)
		return nil, nil, err
	}
	l.Info("init mysql(otelsql) done")

	var drv dialect.Driver = entsql.OpenDB(dialect.MySQL, db)
	if c.Mysql.Debug {
		drv = dialect.Debug(drv, entLogger.NewEntLogger(logger))
	}

	d.sqldb = db
	d.drv = drv

	cleanup := func() {
		if err := drv.Close(); err != nil {
			l.Warnf("close mysql failed: %v", err)
		}
	}
	return d, cleanup, nil
}

// NewInviteConfig 把配置文件里的 invite 段转成 biz 配置，未设置的字段用默认值
func NewInviteConfig(c *conf.Invite) *biz.InviteConfig {
	cfg := biz.DefaultInviteConfig()
	if c == nil {
		return cfg
	}
	if c.MaxInvites > 0 {
		cfg.MaxInvites = int(c.MaxInvites)
	}
	if d := c.Ttl.AsDuration(); d > 0 {
		cfg.TTL = d
	}
	if d := c.PollInterval.AsDuration(); d > 0 {
		cfg.PollInterval = d
	}
	if d := c.CompletionWindow.AsDuration(); d > 0 {
		cfg.CompletionWindow = d
	}
	if d := c.SyncTimeout.AsDuration(); d > 0 {
		cfg.SyncTimeout = d
	}
	if d := c.NotifyTimeout.AsDuration(); d > 0 {
		cfg.NotifyTimeout = d
	}
	if d := c.StopTimeout.AsDuration(); d > 0 {
		cfg.StopTimeout = d
	}
	if c.NotYetErrorCode != 0 {
		cfg.NotYetErrorCode = int(c.NotYetErrorCode)
	}
	if c.CapitalizeUsername != nil {
		cfg.CapitalizeUsername = *c.CapitalizeUsername
	}
	if len(c.DuplicatePhrases) > 0 {
		cfg.DuplicatePhrases = c.DuplicatePhrases
	}
	return cfg
}
