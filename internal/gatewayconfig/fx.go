package gatewayconfig

import (
	"github.com/smallbiznis/tokenmeter/internal/gatewayconfig/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("gatewayconfig",
	fx.Provide(repository.Provide),
)
