//go:build wireinject
// +build wireinject

// The build tag makes sure the stub is not built in the final build.

package main

import (
	"inviteserver/internal/biz"
	"inviteserver/internal/conf"
	"inviteserver/internal/data"
	"inviteserver/internal/server"
	"inviteserver/internal/service"
	"inviteserver/pkg/threading"

	"github.com/go-kratos/kratos/v2"
	"github.com/go-kratos/kratos/v2/log"
	"github.com/google/wire"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
)

// wireApp init kratos application.
func wireApp(*conf.Server, *conf.Data, *conf.Invite, log.Logger, *tracesdk.TracerProvider, *threading.Threading) (*kratos.App, func(), error) {
	panic(wire.Build(server.ProviderSet, data.ProviderSet, biz.ProviderSet, service.ProviderSet, newApp))
}
