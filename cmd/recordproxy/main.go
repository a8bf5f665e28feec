// Command recordproxy is a forward HTTP proxy that records responses and
// replays them on demand. Switch modes by posting
// {"cache.Modifier":{"mode":"cache"|"replay"}} to http://martian.proxy/configure
// through the proxy, or to /configure on the API address.
package main

import (
	"os"

	"github.com/perbu/replaytest/pkg/recordproxy"
)

func main() {
	os.Exit(recordproxy.Main(os.Args[1:], os.Stderr))
}
