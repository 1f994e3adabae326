package git

import (
	"fmt"

	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"

	appcfg "git.home.luguber.info/inful/relbuilder/internal/config"
)

// CreateAuth returns a go-git AuthMethod for the given AuthConfig.
// A nil or "none" config yields nil (anonymous access).
func CreateAuth(authCfg *appcfg.AuthConfig) (transport.AuthMethod, error) {
	if authCfg == nil {
		return nil, nil
	}
	switch authCfg.Type {
	case "", "none":
		return nil, nil
	case "token":
		if authCfg.Token == "" {
			return nil, fmt.Errorf("token auth requires a token")
		}
		username := authCfg.Username
		if username == "" {
			username = "token"
		}
		return &githttp.BasicAuth{Username: username, Password: authCfg.Token}, nil
	case "basic":
		if authCfg.Username == "" || authCfg.Password == "" {
			return nil, fmt.Errorf("basic auth requires username and password")
		}
		return &githttp.BasicAuth{Username: authCfg.Username, Password: authCfg.Password}, nil
	case "ssh":
		if authCfg.KeyPath == "" {
			return nil, fmt.Errorf("ssh auth requires key_path")
		}
		keys, err := gitssh.NewPublicKeysFromFile("git", authCfg.KeyPath, authCfg.Password)
		if err != nil {
			return nil, fmt.Errorf("load ssh key %s: %w", authCfg.KeyPath, err)
		}
		return keys, nil
	default:
		return nil, fmt.Errorf("unsupported auth type %q", authCfg.Type)
	}
}
