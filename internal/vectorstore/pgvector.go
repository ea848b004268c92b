package vectorstore

import (
	"fmt"

	"github.com/xxxsen/mnote-agent/internal/repo"
)

func init() {
	Register("pgvector", createPGVectorStore)
}

func createPGVectorStore(_ interface{}, env Env) (Store, error) {
	if env.PG == nil {
		return nil, fmt.Errorf("pgvector store requires a postgres database")
	}
	return repo.NewNoteChunkRepo(env.PG), nil
}
