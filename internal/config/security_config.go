package config

import "time"

type SecurityConfig interface {
	GetMaxSessionAge() time.Duration
	GetSecureCookies() bool
}

type Security struct{}

var _ SecurityConfig = Security{}

func (Security) GetMaxSessionAge() time.Duration {
	return 30 * time.Minute // Sessions expire after 30 minutes
}

func (Security) GetSecureCookies() bool {
	return EnvVars{}.GetEnv() != "DEV"
}
