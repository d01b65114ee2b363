// 服务配置，由 kratos config 从 config.yaml / config.toml + INVITE_ 环境变量扫描而来
package conf

import (
	"encoding/json"
	"fmt"
	"time"
)

type Bootstrap struct {
	Server *Server `json:"server"`
	Data   *Data   `json:"data"`
	Invite *Invite `json:"invite"`
	Log    *Log    `json:"log"`
	Trace  *Trace  `json:"trace"`
}

type Server struct {
	Http *Transport `json:"http"`
	Grpc *Transport `json:"grpc"`
}

type Transport struct {
	Network string    `json:"network"`
	Addr    string    `json:"addr"`
	Timeout *Duration `json:"timeout"`
}

type Data struct {
	Auth     *Auth     `json:"auth"`
	Mysql    *Mysql    `json:"mysql"`
	Link     *Endpoint `json:"link"`
	Verify   *Verify   `json:"verify"`
	Account  *Endpoint `json:"account"`
	Sync     *Endpoint `json:"sync"`
	Webhook  *Webhook  `json:"webhook"`
	Telegram *Telegram `json:"telegram"`
}

// 运维接口鉴权；jwt_secret 为空时不校验
type Auth struct {
	JwtSecret      string    `json:"jwt_secret"`
	ExpireDuration *Duration `json:"expire_duration"`
}

// dsn 非空时账号写入本地 mysql，不再调用远端开户服务
type Mysql struct {
	Dsn         string    `json:"dsn"`
	Debug       bool      `json:"debug"`
	PingTimeout *Duration `json:"ping_timeout"`
}

// 外部 HTTP 服务，endpoint 形如 127.0.0.1:9000 或 http://host:port
type Endpoint struct {
	Endpoint string    `json:"endpoint"`
	Path     string    `json:"path"`
	Timeout  *Duration `json:"timeout"`
}

// jwt_secret 非空时本地校验 join credential
type Verify struct {
	Endpoint
	JwtSecret string `json:"jwt_secret"`
}

type Webhook struct {
	Url     string    `json:"url"`
	Timeout *Duration `json:"timeout"`
}

type Telegram struct {
	Token  string `json:"token"`
	ChatId int64  `json:"chat_id"`
	// 调试用，格式同 tgbotapi.APIEndpoint
	ApiEndpoint string `json:"api_endpoint"`
}

type Invite struct {
	MaxInvites         int32     `json:"max_invites"`
	Ttl                *Duration `json:"ttl"`
	PollInterval       *Duration `json:"poll_interval"`
	CompletionWindow   *Duration `json:"completion_window"`
	SyncTimeout        *Duration `json:"sync_timeout"`
	NotifyTimeout      *Duration `json:"notify_timeout"`
	StopTimeout        *Duration `json:"stop_timeout"`
	NotYetErrorCode    int32     `json:"not_yet_error_code"`
	CapitalizeUsername *bool     `json:"capitalize_username"`
	DuplicatePhrases   []string  `json:"duplicate_phrases"`
}

type Log struct {
	Debug bool `json:"debug"`
	Json  bool `json:"json"`
}

type Trace struct {
	Endpoint  string `json:"endpoint"`
	TraceName string `json:"trace_name"`
}

// Duration 支持 "5s" / "1m30s" 字符串，数字按秒处理
type Duration struct {
	time.Duration
}

func NewDuration(d time.Duration) *Duration {
	return &Duration{Duration: d}
}

// nil 返回 0，调用方自行处理默认值
func (d *Duration) AsDuration() time.Duration {
	if d == nil {
		return 0
	}
	return d.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v interface{}
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch x := v.(type) {
	case nil:
		d.Duration = 0
	case float64:
		d.Duration = time.Duration(x * float64(time.Second))
	case string:
		if x == "" {
			d.Duration = 0
			return nil
		}
		dur, err := time.ParseDuration(x)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", x, err)
		}
		d.Duration = dur
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Duration.String())
}
