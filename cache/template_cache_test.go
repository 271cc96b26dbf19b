package cache

import (
	"testing"

	"github.com/mohitkumar/grcflow/model"
	"github.com/stretchr/testify/require"
)

func TestTemplateCache(t *testing.T) {
	ch := NewTemplateCache(0)
	v1 := &model.WorkflowTemplate{Code: "VENDOR_REVIEW", Version: 1}
	v2 := &model.WorkflowTemplate{Code: "VENDOR_REVIEW", Version: 2}

	_, found := ch.GetLatest("VENDOR_REVIEW")
	require.False(t, found)

	ch.Put(v1, true)
	ch.Put(v2, true)
	latest, found := ch.GetLatest("VENDOR_REVIEW")
	require.True(t, found)
	require.Equal(t, 2, latest.Version)

	old, found := ch.GetVersion("VENDOR_REVIEW", 1)
	require.True(t, found)
	require.Same(t, v1, old)

	ch.Invalidate("VENDOR_REVIEW")
	_, found = ch.GetLatest("VENDOR_REVIEW")
	require.False(t, found)
	_, found = ch.GetVersion("VENDOR_REVIEW", 2)
	require.True(t, found)
	require.Equal(t, 2, ch.Len())

	ch.Flush()
	require.Equal(t, 0, ch.Len())
}
