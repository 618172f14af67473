package source

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/webtaxon/webtaxon/internal/pipeline"
)

func writeList(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "domains.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadRankedList(t *testing.T) {
	t.Parallel()

	path := writeList(t, "1,example.com\n2,WWW.News-Site.org\n3,shop.example.net\n")
	src := NewCSV(path, zap.NewNop())

	domains, err := src.Load(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, []pipeline.RankedDomain{
		{Rank: 1, Domain: "example.com"},
		{Rank: 2, Domain: "news-site.org"},
		{Rank: 3, Domain: "shop.example.net"},
	}, domains)
}

func TestLoadHonorsLimit(t *testing.T) {
	t.Parallel()

	path := writeList(t, "1,a.com\n2,b.com\n3,c.com\n4,d.com\n")
	src := NewCSV(path, zap.NewNop())

	domains, err := src.Load(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, domains, 2)
	require.Equal(t, "b.com", domains[1].Domain)
}

func TestLoadSkipsHeaderAndBadRows(t *testing.T) {
	t.Parallel()

	path := writeList(t, "rank,domain\n1,example.com\nnotanumber,bad.com\n2,fine.com\nshortrow\n")
	src := NewCSV(path, zap.NewNop())

	domains, err := src.Load(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, []pipeline.RankedDomain{
		{Rank: 1, Domain: "example.com"},
		{Rank: 2, Domain: "fine.com"},
	}, domains)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	src := NewCSV(filepath.Join(t.TempDir(), "missing.csv"), zap.NewNop())
	_, err := src.Load(context.Background(), 0)
	require.Error(t, err)
}
