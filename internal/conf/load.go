package conf

import (
	"fmt"

	_ "inviteserver/pkg/tomlcodec"

	"github.com/go-kratos/kratos/v2/config"
	"github.com/go-kratos/kratos/v2/config/env"
	"github.com/go-kratos/kratos/v2/config/file"
)

// EnvPrefix 环境变量前缀，INVITE_MYSQL_DSN 对应配置里的 ${MYSQL_DSN:}
const EnvPrefix = "INVITE_"

// Load 读取配置文件（yaml / toml 按后缀识别），再用环境变量解析占位符
func Load(path string) (*Bootstrap, func(), error) {
	c := config.New(
		config.WithSource(
			env.NewSource(EnvPrefix),
			file.NewSource(path),
		),
	)
	if err := c.Load(); err != nil {
		_ = c.Close()
		return nil, nil, fmt.Errorf("load config failed: %w (conf=%s)", err, path)
	}

	var bc Bootstrap
	if err := c.Scan(&bc); err != nil {
		_ = c.Close()
		return nil, nil, fmt.Errorf("scan bootstrap config failed: %w", err)
	}
	if bc.Server == nil {
		_ = c.Close()
		return nil, nil, fmt.Errorf("bootstrap server config is nil, please check %s", path)
	}
	if bc.Data == nil {
		_ = c.Close()
		return nil, nil, fmt.Errorf("bootstrap data config is nil, please check %s", path)
	}
	if bc.Invite == nil {
		bc.Invite = &Invite{}
	}
	if bc.Log == nil {
		bc.Log = &Log{}
	}
	if bc.Trace == nil {
		bc.Trace = &Trace{}
	}

	return &bc, func() { _ = c.Close() }, nil
}
