// Command tenantauthd runs the multi-tenant authentication service.
//
// Run with:
//
//	tenantauthd serve --config /etc/tenantauth/config.yaml
//
// Every setting can be overridden with a TENANTAUTH_ prefixed variable,
// e.g. TENANTAUTH_AUTH_APP_KEY or TENANTAUTH_REDIS_HOST.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
