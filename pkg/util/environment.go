package util

import (
	"os"
	"strings"
)

const configPrefix = "SCHOOLRUN_"

// GetEnvironmentVariables returns the process environment restricted to the
// SCHOOLRUN_ prefixed configuration variables
func GetEnvironmentVariables() map[string]string {
	environmentVariables := map[string]string{}

	for _, variable := range os.Environ() {
		pair := strings.SplitN(variable, "=", 2)

		if !strings.HasPrefix(pair[0], configPrefix) {
			continue
		}

		environmentVariables[pair[0]] = pair[1]
	}

	return environmentVariables
}
