// Package testing puts the binaries into test mode for every test binary that
// imports it, so code paths calling app.InTestMode skip real connections.
package testing

import "os"

// ModeEnv is the variable read by app.InTestMode.
const ModeEnv = "COMPANYDIR_TEST_MODE"

func init() {
	if os.Getenv(ModeEnv) == "" {
		_ = os.Setenv(ModeEnv, "true")
	}
}
