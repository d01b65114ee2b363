package data

import (
	"context"
	"crypto/sha256"
	stdsql "database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"inviteserver/internal/biz"

	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/sql"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-sql-driver/mysql"
	"golang.org/x/crypto/bcrypt"
)

const (
	accountTable = "invite_accounts"

	mysqlErrDupEntry = 1062
)

// mysqlAccountRepo 本地账号表，username 唯一
type mysqlAccountRepo struct {
	log  *log.Helper
	drv  dialect.Driver
	cost int
	now  func() time.Time

	mu    sync.Mutex
	ready bool
}

var _ biz.AccountRepo = (*mysqlAccountRepo)(nil)

func newMysqlAccountRepo(drv dialect.Driver, logger log.Logger) *mysqlAccountRepo {
	return &mysqlAccountRepo{
		log:  log.NewHelper(log.With(logger, "module", "data.account.mysql")),
		drv:  drv,
		cost: bcrypt.DefaultCost,
		now:  time.Now,
	}
}

// ensureSchema 首次开户时建表，失败后下次再试
func (r *mysqlAccountRepo) ensureSchema(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ready {
		return nil
	}

	query, args := sql.Dialect(dialect.MySQL).
		CreateTable(accountTable).
		IfNotExists().
		Columns(
			sql.Column("id").Type("bigint").Attr("NOT NULL AUTO_INCREMENT"),
			sql.Column("username").Type("varchar(64)").Attr("NOT NULL UNIQUE"),
			sql.Column("email").Type("varchar(191)").Attr("NOT NULL DEFAULT ''"),
			sql.Column("credential_hash").Type("varchar(255)").Attr("NOT NULL"),
			sql.Column("group_name").Type("varchar(128)").Attr("NOT NULL DEFAULT ''"),
			sql.Column("created_at").Type("datetime").Attr("NOT NULL"),
		).
		PrimaryKey("id").
		Query()
	if err := r.drv.Exec(ctx, query, args, nil); err != nil {
		return fmt.Errorf("create table %s: %w", accountTable, err)
	}
	r.ready = true
	return nil
}

func (r *mysqlAccountRepo) CreateAccount(ctx context.Context, in *biz.AccountCreate) (*biz.AccountCreated, error) {
	l := r.log.WithContext(ctx)

	if err := r.ensureSchema(ctx); err != nil {
		return nil, err
	}

	hash, err := hashCredential(in.Credential, r.cost)
	if err != nil {
		return nil, fmt.Errorf("hash credential: %w", err)
	}

	query, args := sql.Dialect(dialect.MySQL).
		Insert(accountTable).
		Columns("username", "email", "credential_hash", "group_name", "created_at").
		Values(in.Username, in.Email, hash, in.GroupName, r.now()).
		Query()

	var res stdsql.Result
	if err := r.drv.Exec(ctx, query, args, &res); err != nil {
		if isDuplicateKey(err, "username") {
			l.Infof("account exists username=%s", in.Username)
			return nil, fmt.Errorf("%w: %s", biz.ErrDuplicateAccount, in.Username)
		}
		return nil, fmt.Errorf("insert account: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("insert account: last insert id: %w", err)
	}
	l.Infof("account stored username=%s id=%d", in.Username, id)
	return &biz.AccountCreated{ID: strconv.FormatInt(id, 10)}, nil
}

// hashCredential bcrypt 只取前 72 字节，先做 sha256 再 hash
func hashCredential(credential string, cost int) (string, error) {
	sum := sha256.Sum256([]byte(credential))
	b, err := bcrypt.GenerateFromPassword([]byte(hex.EncodeToString(sum[:])), cost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func checkCredential(hash, credential string) bool {
	sum := sha256.Sum256([]byte(credential))
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(hex.EncodeToString(sum[:]))) == nil
}

// isDuplicateKey 只认唯一键冲突，并且冲突的 key 必须是给定列之一
func isDuplicateKey(err error, keys ...string) bool {
	var me *mysql.MySQLError
	if !errors.As(err, &me) || me.Number != mysqlErrDupEntry {
		return false
	}
	if len(keys) == 0 {
		return true
	}
	msg := strings.ToLower(me.Message)
	for _, key := range keys {
		if strings.Contains(msg, strings.ToLower(key)) {
			return true
		}
	}
	return false
}
