package connector

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/scratchpad/internal/ir"
)

var articles = ir.TableSpec{ID: "tbl_articles", Name: "Articles", Connector: "file", RemoteID: "articles"}

func newTestFileConnector(t *testing.T) *FileConnector {
	t.Helper()
	n := 0
	return NewFileConnector(t.TempDir(), WithIDFunc(func() string {
		n++
		return fmt.Sprintf("rec_%d", n)
	}))
}

func TestFileConnector_PullSeeded(t *testing.T) {
	c := newTestFileConnector(t)
	require.NoError(t, c.Seed(articles, []RemoteRecord{
		{RemoteID: "r1", Fields: ir.Fields{"title": "A", "views": int64(10)}},
	}))

	got, err := c.PullRecords(context.Background(), articles)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "r1", got[0].RemoteID)
	assert.Equal(t, int64(10), got[0].Fields["views"], "integers survive the file round trip")
}

func TestFileConnector_PullMissingTable(t *testing.T) {
	c := newTestFileConnector(t)

	_, err := c.PullRecords(context.Background(), articles)
	require.Error(t, err)
	assert.True(t, IsConnectorError(err))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestFileConnector_Push(t *testing.T) {
	c := newTestFileConnector(t)
	require.NoError(t, c.Seed(articles, []RemoteRecord{
		{RemoteID: "r1", Fields: ir.Fields{"title": "A"}},
		{RemoteID: "r2", Fields: ir.Fields{"title": "B"}},
	}))

	results, err := c.PushRecords(context.Background(), articles, []Op{
		{Kind: OpCreate, WsID: "ws_new", Fields: ir.Fields{"title": "N"}},
		{Kind: OpUpdate, WsID: "ws_1", RemoteID: "r1", Fields: ir.Fields{"title": "A2"}},
		{Kind: OpDelete, WsID: "ws_2", RemoteID: "r2"},
		{Kind: OpUpdate, WsID: "ws_gone", RemoteID: "missing", Fields: ir.Fields{"title": "x"}},
	})
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.True(t, results[0].OK)
	assert.Equal(t, "rec_1", results[0].RemoteID)
	assert.True(t, results[1].OK)
	assert.True(t, results[2].OK)
	assert.False(t, results[3].OK)
	assert.Equal(t, "record not found", results[3].Error)

	got, err := c.PullRecords(context.Background(), articles)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "A2", got[0].Fields["title"])
	assert.Equal(t, "rec_1", got[1].RemoteID)
}

type failingConnector struct {
	calls int
}

func (f *failingConnector) PullRecords(context.Context, ir.TableSpec) ([]RemoteRecord, error) {
	f.calls++
	return nil, errors.New("service unavailable")
}

func (f *failingConnector) PushRecords(context.Context, ir.TableSpec, []Op) ([]OpResult, error) {
	f.calls++
	return nil, errors.New("service unavailable")
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	inner := &failingConnector{}
	b := NewBreaker("breaker-test", inner, BreakerSettings{
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          time.Hour,
		FailureThreshold: 2,
	})

	for i := 0; i < 2; i++ {
		_, err := b.PullRecords(context.Background(), articles)
		require.Error(t, err)
		assert.True(t, IsConnectorError(err))
	}
	assert.Equal(t, "open", b.State())

	_, err := b.PullRecords(context.Background(), articles)
	require.Error(t, err)
	assert.True(t, IsConnectorError(err))
	assert.Equal(t, 2, inner.calls, "open circuit does not reach the service")
}

func TestBreaker_PassesThrough(t *testing.T) {
	c := newTestFileConnector(t)
	require.NoError(t, c.Seed(articles, []RemoteRecord{{RemoteID: "r1", Fields: ir.Fields{"title": "A"}}}))

	b := NewBreaker("breaker-pass", c, DefaultBreakerSettings())
	got, err := b.PullRecords(context.Background(), articles)
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, "closed", b.State())
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	c := newTestFileConnector(t)
	r.Register("file", c)

	got, err := r.Get("file")
	require.NoError(t, err)
	assert.Same(t, c, got)

	_, err = r.Get("notion")
	assert.ErrorIs(t, err, ErrUnknownService)
	assert.Equal(t, []string{"file"}, r.Services())
}
