package interval

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/softdb/softdb/internal/base"
	"github.com/softdb/softdb/internal/nvm"
)

func TestRefCounting(t *testing.T) {
	tbl := nvm.NewTable(bytes.Compare, 1, false)
	inf := base.EncodeEntry(nil, base.MakeInternalKey([]byte("a"), 1, base.ValueTypeValue), nil)
	sup := base.EncodeEntry(nil, base.MakeInternalKey([]byte("z"), 1, base.ValueTypeValue), nil)

	iv := New(inf, sup, 7, tbl)
	require.Equal(t, int32(1), iv.RefCount())
	require.Equal(t, uint64(7), iv.Timestamp)

	// A reader bumps, uses the table, and drops.
	iv.Ref()
	require.Equal(t, int32(2), iv.RefCount())
	require.NotNil(t, iv.Table)
	iv.Unref()
	require.Equal(t, int32(1), iv.RefCount())
	require.NotNil(t, iv.Table)

	// The last holder's Unref releases the table.
	iv.Unref()
	require.Equal(t, int32(0), iv.RefCount())
	require.Nil(t, iv.Table)
}
