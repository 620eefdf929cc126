package retention

import (
	"github.com/smallbiznis/lifecycle/internal/retention/repository"
	"github.com/smallbiznis/lifecycle/internal/retention/service"
	"go.uber.org/fx"
)

var Module = fx.Module("retention",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
