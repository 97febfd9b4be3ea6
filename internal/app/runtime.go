package app

import (
	"os"
	"strconv"
)

const testModeEnv = "COMPANYDIR_TEST_MODE"

// InTestMode reports whether COMPANYDIR_TEST_MODE asks the binaries to skip
// runtime side effects. Any value strconv.ParseBool reads as true counts.
func InTestMode() bool {
	on, _ := strconv.ParseBool(os.Getenv(testModeEnv))
	return on
}
