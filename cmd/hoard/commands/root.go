package commands

import (
	"github.com/meshnetworks/hoard/src/config"
	"github.com/spf13/cobra"
)

var (
	_config = config.NewDefaultConfig()
)

//RootCmd is the root command for Hoard
var RootCmd = &cobra.Command{
	Use:              "hoard",
	Short:            "hoard block exchange",
	TraverseChildren: true,
}
