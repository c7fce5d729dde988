package logging

import "go.uber.org/zap"

// New builds the process-wide logger. Development and test get the console
// encoder; everything else gets production JSON.
func New(appEnv string) (*zap.Logger, error) {
	if appEnv == "development" || appEnv == "test" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
