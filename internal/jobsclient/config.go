package jobsclient

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/helios-ml/batchinfer/internal/platform/env"
)

const (
	IdentityNone   = "none"
	IdentityToken  = "token"
	IdentityOAuth2 = "oauth2"
)

type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Identity IdentityConfig
}

// IdentityConfig selects how the client authenticates to the job service:
// a static bearer token or an OAuth2 client-credentials grant.
type IdentityConfig struct {
	Mode         string
	Token        string
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string
}

func ConfigFromEnv() (Config, error) {
	baseURL, err := env.Require("BATCHINFER_JOBS_BASE_URL")
	if err != nil {
		return Config{}, err
	}
	timeout, err := env.Duration("BATCHINFER_JOBS_TIMEOUT", 30*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{
		BaseURL: baseURL,
		Timeout: timeout,
		Identity: IdentityConfig{
			Mode:         env.String("BATCHINFER_JOBS_AUTH_MODE", IdentityNone),
			Token:        env.String("BATCHINFER_JOBS_TOKEN", ""),
			ClientID:     env.String("BATCHINFER_JOBS_CLIENT_ID", ""),
			ClientSecret: env.String("BATCHINFER_JOBS_CLIENT_SECRET", ""),
			TokenURL:     env.String("BATCHINFER_JOBS_TOKEN_URL", ""),
		},
	}
	if scopes := env.String("BATCHINFER_JOBS_SCOPES", ""); scopes != "" {
		for _, s := range strings.Split(scopes, ",") {
			if s = strings.TrimSpace(s); s != "" {
				cfg.Identity.Scopes = append(cfg.Identity.Scopes, s)
			}
		}
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.BaseURL) == "" {
		return errors.New("base url is required")
	}
	if c.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	switch c.Identity.Mode {
	case IdentityNone:
	case IdentityToken:
		if strings.TrimSpace(c.Identity.Token) == "" {
			return errors.New("token is required for token identity")
		}
	case IdentityOAuth2:
		if strings.TrimSpace(c.Identity.ClientID) == "" {
			return errors.New("client id is required for oauth2 identity")
		}
		if strings.TrimSpace(c.Identity.ClientSecret) == "" {
			return errors.New("client secret is required for oauth2 identity")
		}
		if strings.TrimSpace(c.Identity.TokenURL) == "" {
			return errors.New("token url is required for oauth2 identity")
		}
	default:
		return fmt.Errorf("unsupported identity mode: %q", c.Identity.Mode)
	}
	return nil
}
