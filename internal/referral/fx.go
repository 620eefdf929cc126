package referral

import (
	"github.com/smallbiznis/lifecycle/internal/referral/repository"
	"github.com/smallbiznis/lifecycle/internal/referral/service"
	"go.uber.org/fx"
)

var Module = fx.Module("referral",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
