package db_test

import (
	"context"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aquasecurity/trivy-java-resolver/pkg/db"
	"github.com/aquasecurity/trivy-java-resolver/pkg/dbtest"
	"github.com/aquasecurity/trivy-java-resolver/pkg/types"

	_ "modernc.org/sqlite"
)

var (
	jstlSha1b, _            = hex.DecodeString("9c581de633e94be1e7a955bd4e8292f16e554387")
	javaxServlet10Sha1b, _  = hex.DecodeString("5d4ae7a8a17a33e01283e76e0dff66c4bce6456a")
	javaxServlet110Sha1b, _ = hex.DecodeString("bca201e52333629c59e459e874e5ecd8f9899e15")
	sourcesSha1b, _         = hex.DecodeString("b65e1196b26baeeec951fef2fefd4357aa001122")

	indexJstl = types.Index{
		GroupID:    "jstl",
		ArtifactID: "jstl",
		Version:    "1.0",
		Extension:  "jar",
		SHA1:       jstlSha1b,
	}
	indexJavaxServlet10 = types.Index{
		GroupID:    "javax.servlet",
		ArtifactID: "jstl",
		Version:    "1.0",
		Extension:  "jar",
		SHA1:       javaxServlet10Sha1b,
	}
	indexJavaxServlet11 = types.Index{
		GroupID:    "javax.servlet",
		ArtifactID: "jstl",
		Version:    "1.1.0",
		Extension:  "jar",
		SHA1:       javaxServlet110Sha1b,
	}
	indexJavaxServlet11Sources = types.Index{
		GroupID:    "javax.servlet",
		ArtifactID: "jstl",
		Version:    "1.1.0",
		Classifier: "sources",
		Extension:  "jar",
		SHA1:       sourcesSha1b,
	}
	// Same content as jstl:jstl:1.0, published again under a relocated group.
	indexRelocated = types.Index{
		GroupID:    "org.apache.taglibs",
		ArtifactID: "jstl",
		Version:    "1.0",
		Extension:  "jar",
		SHA1:       jstlSha1b,
	}
)

func TestSelectIndexesBySha1(t *testing.T) {
	tests := []struct {
		name    string
		sha1    string
		want    []types.Index
		wantErr string
	}{
		{
			name: "happy path",
			sha1: "5d4ae7a8a17a33e01283e76e0dff66c4bce6456a",
			want: []types.Index{indexJavaxServlet10},
		},
		{
			name: "same content under two coordinates",
			sha1: "9C581DE633E94BE1E7A955BD4E8292F16E554387\n",
			want: []types.Index{indexJstl, indexRelocated},
		},
		{
			name: "wrong sha1",
			sha1: "1111111111111111111111111111111111111111",
		},
		{
			name:    "not hex",
			sha1:    "xyz",
			wantErr: "sha1 decode error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dbc := dbtest.InitDB(t, []types.Index{
				indexRelocated,
				indexJstl,
				indexJavaxServlet10,
			})

			got, err := dbc.SelectIndexesBySha1(context.Background(), tt.sha1)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSelectIndexesByGroupIDAndArtifactID(t *testing.T) {
	tests := []struct {
		name       string
		groupID    string
		artifactID string
		want       []types.Index
	}{
		{
			name:       "happy path",
			groupID:    "javax.servlet",
			artifactID: "jstl",
			want:       []types.Index{indexJavaxServlet10, indexJavaxServlet11, indexJavaxServlet11Sources},
		},
		{
			name:       "wrong ArtifactID",
			groupID:    "javax.servlet",
			artifactID: "wrong",
		},
		{
			name:       "wrong GroupID",
			groupID:    "wrong",
			artifactID: "jstl",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dbc := dbtest.InitDB(t, []types.Index{
				indexJstl,
				indexJavaxServlet11Sources,
				indexJavaxServlet11,
				indexJavaxServlet10,
			})

			got, err := dbc.SelectIndexesByGroupIDAndArtifactID(context.Background(), tt.groupID, tt.artifactID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestInsertIndexes_Update(t *testing.T) {
	dbc := dbtest.InitDB(t, []types.Index{indexJstl})

	updated := indexJstl
	updated.SHA1 = javaxServlet110Sha1b
	require.NoError(t, dbc.InsertIndexes(context.Background(), []types.Index{updated}))

	got, err := dbc.SelectIndexesByGroupIDAndArtifactID(context.Background(), "jstl", "jstl")
	require.NoError(t, err)
	assert.Equal(t, []types.Index{updated}, got)

	require.NoError(t, dbc.DeleteAll())
	got, err = dbc.SelectIndexesByGroupIDAndArtifactID(context.Background(), "jstl", "jstl")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMetadata(t *testing.T) {
	dbc := dbtest.InitDB(t, nil)

	_, err := dbc.Metadata()
	require.Error(t, err)

	want := db.Metadata{
		Version:   db.SchemaVersion,
		UpdatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Artifacts: 42,
	}
	require.NoError(t, dbc.UpdateMetadata(want))
	got, err := dbc.Metadata()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
