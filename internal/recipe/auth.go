package recipe

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	gitssh "github.com/go-git/go-git/v5/plumbing/transport/ssh"

	"git.home.luguber.info/inful/edged/internal/config"
)

// BuildAuth turns the recipe repository's auth configuration into a go-git
// transport credential. A nil result means anonymous access.
func BuildAuth(cfg config.RecipeAuthConfig) (transport.AuthMethod, error) {
	switch cfg.Type {
	case "", "none":
		return nil, nil

	case "token":
		if cfg.Token == "" {
			return nil, fmt.Errorf("recipe repo auth: token is required")
		}
		// Git hosts accept "token" as the username for token credentials.
		return &githttp.BasicAuth{Username: "token", Password: cfg.Token}, nil

	case "basic":
		if cfg.Username == "" || cfg.Password == "" {
			return nil, fmt.Errorf("recipe repo auth: username and password are required")
		}
		return &githttp.BasicAuth{Username: cfg.Username, Password: cfg.Password}, nil

	case "ssh":
		keyPath := cfg.KeyPath
		if keyPath == "" {
			keyPath = filepath.Join(os.Getenv("HOME"), ".ssh", "id_rsa")
		}
		keys, err := gitssh.NewPublicKeysFromFile("git", keyPath, "")
		if err != nil {
			return nil, fmt.Errorf("recipe repo auth: load ssh key %s: %w", keyPath, err)
		}
		return keys, nil

	default:
		return nil, fmt.Errorf("recipe repo auth: unsupported type %q", cfg.Type)
	}
}
