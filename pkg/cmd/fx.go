package cmd

import "go.uber.org/fx"

var Module = fx.Module("cli",
	fx.Provide(
		fx.Annotate(apply, fx.ResultTags(`group:"commands"`)),
		fx.Annotate(clear, fx.ResultTags(`group:"commands"`)),
		fx.Annotate(head, fx.ResultTags(`group:"commands"`)),
		fx.Annotate(newCmd, fx.ResultTags(`group:"commands"`)),
		fx.Annotate(rollback, fx.ResultTags(`group:"commands"`)),
		fx.Annotate(seedCmd, fx.ResultTags(`group:"commands"`)),
		fx.Annotate(squash, fx.ResultTags(`group:"commands"`)),
		fx.Annotate(status, fx.ResultTags(`group:"commands"`)),
		fx.Annotate(verify, fx.ResultTags(`group:"commands"`)),
	),
	fx.Invoke(Run),
)
