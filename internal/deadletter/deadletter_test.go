package deadletter

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStores(t *testing.T) {
	for _, driver := range []string{"sqlite", "file"} {
		t.Run(driver, func(t *testing.T) {
			dir := t.TempDir()
			s, err := Open(driver, filepath.Join(dir, "dl", "dead_letters."+driver))
			require.NoError(t, err)
			defer s.Close()
			ctx := context.Background()

			first := NewEntry("trades", "evt-1", "order not found", []byte(`{"order":{"id":"b-9"}}`))
			first.CreatedAt = time.Now().Add(-time.Minute).UTC()
			require.NoError(t, s.Append(ctx, first))
			second := NewEntry("transfers", "", "malformed event", []byte("not json"))
			require.NoError(t, s.Append(ctx, second))

			list, err := s.List(ctx, 10)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, second.ID, list[0].ID)
			assert.JSONEq(t, `"not json"`, string(list[0].Payload))
			assert.Equal(t, "evt-1", list[1].EventID)
			assert.JSONEq(t, `{"order":{"id":"b-9"}}`, string(list[1].Payload))

			list, err = s.List(ctx, 1)
			require.NoError(t, err)
			assert.Len(t, list, 1)
		})
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open("redis", "/tmp/x")
	assert.Error(t, err)
}
