package chain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cipherlabs/mixagent/pkg/errs"
)

func TestRPCAdapterFetchLeaves(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chunks/3/leaves", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{"leaves": []string{"1", "2"}})
	}))
	defer srv.Close()

	a := NewRPCAdapter(srv.URL, nil)
	leaves, err := a.FetchLeaves(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, leaves, 2)
	assert.Equal(t, "1", leaves[0].String())
	assert.Equal(t, "2", leaves[1].String())
}

func TestRPCAdapterTranslatesServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	a := NewRPCAdapter(srv.URL, nil)
	_, err := a.CurrentChunkID(context.Background())
	require.Error(t, err)
	assert.Equal(t, errs.ChainUnavailable, errs.KindOf(err))
}

func TestRPCAdapterTranslatesClientError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"reason": "malformed_proof"})
	}))
	defer srv.Close()

	a := NewRPCAdapter(srv.URL, nil)
	_, err := a.SubmitDeposit(context.Background(), []byte("proof"), 10, 0)
	require.Error(t, err)
	assert.Equal(t, errs.ChainRejected, errs.KindOf(err))
}

func TestRPCAdapterTranslatesTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()

	a := NewRPCAdapter(srv.URL, nil)
	_, err := a.CurrentChunkID(ctx)
	require.Error(t, err)
	assert.Contains(t, []errs.Kind{errs.IoTimeout, errs.IoNetwork, errs.ChainUnavailable}, errs.KindOf(err))
}
