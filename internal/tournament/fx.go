package tournament

import (
	"github.com/smallbiznis/lanes/internal/tournament/repository"
	"github.com/smallbiznis/lanes/internal/tournament/service"
	"go.uber.org/fx"
)

var Module = fx.Module("tournament.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
