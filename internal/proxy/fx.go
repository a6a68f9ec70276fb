package proxy

import (
	"github.com/smallbiznis/tokenmeter/internal/proxy/service"
	"go.uber.org/fx"
)

var Module = fx.Module("proxy.service",
	fx.Provide(service.NewService),
)
