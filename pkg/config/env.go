package config

import (
	"fmt"
	"os"
)

// Environment selects development (single machine, local disk) or
// production (shared object storage) behavior.
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"

	// DevDomainSuffix resolves every subdomain to 127.0.0.1
	DevDomainSuffix = "lvh.me"
)

// DefaultEnvironment reads BURROW_ENV, defaulting to development
func DefaultEnvironment() Environment {
	if env := Environment(os.Getenv("BURROW_ENV")); env.Valid() {
		return env
	}
	return Development
}

func (e Environment) Valid() bool {
	return e == Development || e == Production
}

func (e Environment) IsDev() bool {
	return e == Development
}

func (e Environment) IsProd() bool {
	return e == Production
}

// ForceLocalMom keeps development uploads on the local coordinator
func ForceLocalMom() bool {
	return os.Getenv("BURROW_FORCE_LOCAL_MOM") != ""
}

// Domains computes the public hostnames and base URLs of tenants
type Domains struct {
	Env Environment
	// Port is only used in development URLs
	Port int
}

// WebDomain is the hostname browsers use for the tenant's pages
func (d Domains) WebDomain(tenant string) string {
	if d.Env.IsDev() {
		return tenant + "." + DevDomainSuffix
	}
	return tenant
}

// CDNDomain is the hostname serving the tenant's assets
func (d Domains) CDNDomain(tenant string) string {
	return "cdn." + d.WebDomain(tenant)
}

// WebBaseURL has no trailing slash
func (d Domains) WebBaseURL(tenant string) string {
	return d.baseURL(d.WebDomain(tenant))
}

// CDNBaseURL has no trailing slash
func (d Domains) CDNBaseURL(tenant string) string {
	return d.baseURL(d.CDNDomain(tenant))
}

func (d Domains) baseURL(host string) string {
	if d.Env.IsDev() {
		return fmt.Sprintf("http://%s:%d", host, d.Port)
	}
	return "https://" + host
}
