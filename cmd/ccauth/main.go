// Command ccauth prints OAuth2 client-credentials access tokens for scripts and
// local debugging. Configuration comes from the environment, see oauth2client.FromEnv.
package main

import "os"

// Version can be set during build with -ldflags
var version = "dev"

func main() {
	if err := newRootCmd(version).Execute(); err != nil {
		os.Exit(1)
	}
}
