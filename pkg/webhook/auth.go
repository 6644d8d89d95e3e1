package webhook

import (
	"strings"

	"github.com/pkg/errors"
)

// AuthType tags the webhook authentication variant.
type AuthType string

const (
	AuthNone   AuthType = "none"
	AuthBasic  AuthType = "basic"
	AuthBearer AuthType = "bearer"
)

// AuthConfig describes how outbound webhook calls authenticate.
// Exactly one variant is populated at a time; an empty Type is treated as
// AuthNone so legacy records without an auth block load cleanly.
type AuthConfig struct {
	Type     AuthType `json:"type" yaml:"type"`
	Username string   `json:"username,omitempty" yaml:"username,omitempty"`
	Password string   `json:"password,omitempty" yaml:"password,omitempty"`
	Token    string   `json:"token,omitempty" yaml:"token,omitempty"`
}

// Normalize maps an empty type to AuthNone and clears fields that do not
// belong to the selected variant.
func (a AuthConfig) Normalize() AuthConfig {
	switch a.Type {
	case AuthBasic:
		return AuthConfig{Type: AuthBasic, Username: a.Username, Password: a.Password}
	case AuthBearer:
		return AuthConfig{Type: AuthBearer, Token: a.Token}
	default:
		return AuthConfig{Type: AuthNone}
	}
}

func (a AuthConfig) Validate() error {
	switch a.Type {
	case "", AuthNone:
		if a.Username != "" || a.Password != "" || a.Token != "" {
			return errors.New("auth config: credentials set without an auth type")
		}
		return nil
	case AuthBasic:
		if strings.TrimSpace(a.Username) == "" {
			return errors.New("auth config: basic auth requires a username")
		}
		if a.Token != "" {
			return errors.New("auth config: basic auth must not carry a token")
		}
		return nil
	case AuthBearer:
		if strings.TrimSpace(a.Token) == "" {
			return errors.New("auth config: bearer auth requires a token")
		}
		if a.Username != "" || a.Password != "" {
			return errors.New("auth config: bearer auth must not carry basic credentials")
		}
		return nil
	default:
		return errors.Errorf("auth config: unknown auth type %q", a.Type)
	}
}
