package relayddb

import (
	relaycli "github.com/relaykit/relay/relay-cli"
	"github.com/urfave/cli/v2"
)

var DDBOpts struct {
	DAXCluster string
	Region     string
}

var DAXClusterFlag = relaycli.StringFlag("dax-cluster", "The DAX cluster to connect to", &DDBOpts.DAXCluster)
var RegionFlag = relaycli.StringFlag("aws-region", "The region DAX runs in", &DDBOpts.Region, "us-east-2")

var DDBFlags = []cli.Flag{
	DAXClusterFlag,
	RegionFlag,
}
