package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"inviteserver/internal/conf"
	jwtutil "inviteserver/pkg/jwt"
)

// 生成运营人员访问令牌，或本地校验模式下的加入凭证（联调用）
//
//	gen-token -conf ./configs/dev/config.yaml -user ops -role admin
//	gen-token -conf ./configs/dev/config.yaml -join -user alice -email alice@example.com
func main() {
	var (
		confPath = flag.String("conf", "./configs/dev/config.yaml", "config path")
		secret   = flag.String("secret", "", "override jwt secret from config")
		user     = flag.String("user", "", "username")
		uid      = flag.Int("uid", 1, "user id")
		role     = flag.String("role", "admin", "admin | operator")
		ttl      = flag.Duration("ttl", 0, "token lifetime, default data.auth.expire_duration or 24h")
		join     = flag.Bool("join", false, "mint a join credential signed with data.verify.jwt_secret")
		email    = flag.String("email", "", "email carried by the join credential")
	)
	flag.Parse()

	if *user == "" {
		fmt.Fprintln(os.Stderr, "usage: gen-token [-conf path] [-secret s] -user name [-role admin|operator] [-join -email addr]")
		os.Exit(1)
	}

	key, expire := *secret, *ttl
	if key == "" {
		bc, closeConf, err := conf.Load(*confPath)
		if err != nil {
			fatal(err)
		}
		defer closeConf()

		if *join {
			if bc.Data.Verify != nil {
				key = bc.Data.Verify.JwtSecret
			}
		} else if bc.Data.Auth != nil {
			key = bc.Data.Auth.JwtSecret
			if expire == 0 {
				expire = bc.Data.Auth.ExpireDuration.AsDuration()
			}
		}
	}
	if key == "" {
		fatal(fmt.Errorf("jwt secret is empty, set it in config or pass -secret"))
	}
	if expire <= 0 {
		expire = 24 * time.Hour
	}
	cfg := jwtutil.Config{Secret: []byte(key), ExpireDuration: expire}

	if *join {
		tok, err := jwtutil.NewJoinToken(cfg, *user, *email)
		if err != nil {
			fatal(err)
		}
		fmt.Println(tok)
		return
	}

	var r int8
	switch *role {
	case "admin":
		r = 1
	case "operator":
		r = 0
	default:
		fatal(fmt.Errorf("unknown role %q", *role))
	}

	tok, expireAt, err := jwtutil.NewToken(cfg, *uid, *user, r)
	if err != nil {
		fatal(err)
	}
	fmt.Println(tok)
	fmt.Fprintln(os.Stderr, "expires at", expireAt.Format(time.RFC3339))
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "gen-token:", err)
	os.Exit(1)
}
