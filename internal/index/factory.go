package index

import (
	"fmt"
	"os"
	"strconv"

	"github.com/54b3r/docchat-go/internal/rag"
)

// Backend names accepted by NewManagerFromEnv.
const (
	BackendChromem = "chromem"
	BackendQdrant  = "qdrant"
)

// NewManagerFromEnv builds an IndexManager for the backend selected by
// INDEX_BACKEND (default: chromem). The embedded chromem backend persists
// under INDEX_PATH; the qdrant backend reads QDRANT_HOST, QDRANT_PORT,
// QDRANT_API_KEY and QDRANT_USE_TLS.
func NewManagerFromEnv(vectorSize int) (rag.IndexManager, error) {
	backend := os.Getenv("INDEX_BACKEND")
	if backend == "" {
		backend = BackendChromem
	}

	switch backend {
	case BackendChromem:
		path := os.Getenv("INDEX_PATH")
		if path == "" {
			path = defaultIndexPath()
		}
		return NewChromemManager(&ChromemConfig{Path: path})

	case BackendQdrant:
		cfg := &QdrantConfig{
			Host:       os.Getenv("QDRANT_HOST"),
			APIKey:     os.Getenv("QDRANT_API_KEY"),
			UseTLS:     os.Getenv("QDRANT_USE_TLS") == "true",
			VectorSize: uint64(vectorSize),
		}
		if p := os.Getenv("QDRANT_PORT"); p != "" {
			port, err := strconv.Atoi(p)
			if err != nil {
				return nil, fmt.Errorf("index: invalid QDRANT_PORT %q: %w", p, err)
			}
			cfg.Port = port
		}
		return NewQdrantManager(cfg)

	default:
		return nil, fmt.Errorf("index: unknown backend %q (want %s or %s)", backend, BackendChromem, BackendQdrant)
	}
}

// defaultIndexPath places the embedded database under the user's home
// directory, falling back to the working directory when home is unknown.
func defaultIndexPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".docchat/index"
	}
	return home + "/.docchat/index"
}
