package config

type Config interface {
	EnvConfig
	CorsConfig
	SecurityConfig
	AuthConfig
}

type EnvConfig interface {
	GetPort() string
	GetAppName() string
	GetBaseURL() string
	GetSettingsPath() string
	GetEnv() string
}

type CorsConfig interface {
	GetAllowedOrigins() AllowedOrigins
	GetAllowedMethods() string
	GetAllowedHeaders() string
}

type mainConfig struct {
	EnvVars
	Cors
	Security
	*AuthSettings
}

// Load builds the full configuration: environment variables plus the YAML
// auth settings file at the path given by AUTH_SETTINGS. Access rules are
// validated here, so a bad rule set fails startup instead of a request.
func Load() (Config, error) {
	settings, err := LoadAuthSettings(EnvVars{}.GetSettingsPath())
	if err != nil {
		return nil, err
	}
	return mainConfig{AuthSettings: settings}, nil
}
