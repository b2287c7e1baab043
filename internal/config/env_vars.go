package config

import (
	"fmt"
	"os"
)

const (
	portEnvVar     = "PORT"
	appNameVar     = "APP_NAME"
	baseURLVar     = "BASE_URL"
	settingsEnvVar = "AUTH_SETTINGS"
)

type EnvVars struct{}

var _ EnvConfig = EnvVars{}

func (EnvVars) GetPort() string {
	port := GetEnv(portEnvVar, "8080")
	if port != "" && port[0] != ':' {
		port = fmt.Sprintf(":%s", port)
	}
	return port
}

func (EnvVars) GetAppName() string {
	return GetEnv(appNameVar, "Go WebApp Auth")
}

// GetBaseURL returns the externally visible base URL of the application
// (e.g. "https://app.example.com"). The provider redirect URI is derived
// from it.
func (EnvVars) GetBaseURL() string {
	return GetEnv(baseURLVar, "http://localhost:8080")
}

// GetSettingsPath returns the path of the YAML auth settings file.
func (EnvVars) GetSettingsPath() string {
	return GetEnv(settingsEnvVar, "./settings.yaml")
}

func (EnvVars) GetEnv() string {
	env := os.Getenv("ENV")
	if env == "" {
		return "DEV"
	}
	return env
}

func GetEnv(envVar, defaultValue string) string {
	value := os.Getenv(envVar)
	if value == "" {
		return defaultValue
	}
	return value
}
