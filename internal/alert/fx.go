package alert

import (
	"github.com/smallbiznis/lifecycle/internal/alert/repository"
	"github.com/smallbiznis/lifecycle/internal/alert/service"
	"go.uber.org/fx"
)

var Module = fx.Module("alert",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
