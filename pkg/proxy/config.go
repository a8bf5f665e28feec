package proxy

import (
	"strconv"
)

// BuildArgs constructs the proxy command line:
//
//	-addr :<port> -api-addr :<port> -v <level> [-cache <path>] [extra...]
func BuildArgs(cfg *Config) []string {
	args := make([]string, 0, 8+len(cfg.ExtraArgs))

	args = append(args, "-addr", cfg.Addr)
	args = append(args, "-api-addr", cfg.APIAddr)
	args = append(args, "-v", strconv.Itoa(cfg.Verbosity))

	if cfg.CachePath != "" {
		args = append(args, "-cache", cfg.CachePath)
	}

	// Extra args go last so they can override anything above
	args = append(args, cfg.ExtraArgs...)

	return args
}

// ListenAddr turns a port into the ":<port>" form the proxy flags expect.
func ListenAddr(port int) string {
	return ":" + strconv.Itoa(port)
}
