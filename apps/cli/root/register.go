package root

import (
	"github.com/opencourt/opencourt/apps/cli/cmd/bootstrap"
	"github.com/opencourt/opencourt/apps/cli/cmd/credits"
)

func init() {
	Root().AddCommand(bootstrap.Command())
	Root().AddCommand(credits.Command())
}
