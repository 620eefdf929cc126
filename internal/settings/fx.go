package settings

import (
	"github.com/smallbiznis/lifecycle/internal/settings/repository"
	"github.com/smallbiznis/lifecycle/internal/settings/service"
	"go.uber.org/fx"
)

var Module = fx.Module("settings",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewProvider),
)
