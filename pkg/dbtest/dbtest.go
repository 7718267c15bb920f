package dbtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aquasecurity/trivy-java-resolver/pkg/db"
	"github.com/aquasecurity/trivy-java-resolver/pkg/types"
)

func InitDB(t *testing.T, indexes []types.Index) db.DB {
	tmpDir := t.TempDir()
	dbc, err := db.New(tmpDir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = dbc.Close() })

	require.NoError(t, dbc.Init())
	if len(indexes) > 0 {
		require.NoError(t, dbc.InsertIndexes(context.Background(), indexes))
	}
	return dbc
}
