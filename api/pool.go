package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/veilpay/veilpay/storage"
	"github.com/veilpay/veilpay/tree"
	"github.com/veilpay/veilpay/types"
)

const defaultAnnouncementsLimit = 100

// status returns GET /status
func (a *API) status(w http.ResponseWriter, r *http.Request) {
	last, err := a.storage.LastBlockScanned()
	if err != nil {
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	httpWriteJSON(w, &StatusResponse{
		LastBlockScanned: last,
		LeafCount:        a.tree.LeafCount(),
		Root:             types.BigIntFrom(a.tree.Root()),
	})
}

// root returns GET /root
func (a *API) root(w http.ResponseWriter, r *http.Request) {
	httpWriteJSON(w, &RootResponse{
		Root:      types.BigIntFrom(a.tree.Root()),
		LeafCount: a.tree.LeafCount(),
	})
}

// siblingPath returns GET /path/{commitment}
func (a *API) siblingPath(w http.ResponseWriter, r *http.Request) {
	commitment, ok := parseFieldElement(chi.URLParam(r, CommitmentURLParam))
	if !ok {
		ErrMalformedCommitment.Write(w)
		return
	}
	index, err := a.tree.LeafIndexOf(commitment)
	if err != nil {
		if errors.Is(err, tree.ErrLeafNotFound) {
			ErrCommitmentNotIndexed.Withf("%s", commitment.String()).Write(w)
			return
		}
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	path, err := a.tree.SiblingPath(index)
	if err != nil {
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	resp := &PathResponse{
		LeafIndex:    path.LeafIndex,
		Leaf:         types.BigIntFrom(path.Leaf),
		Root:         types.BigIntFrom(path.Root),
		PathElements: make([]*types.BigInt, types.TreeDepth),
		PathIndices:  make([]int, types.TreeDepth),
	}
	for i := 0; i < types.TreeDepth; i++ {
		resp.PathElements[i] = types.BigIntFrom(path.PathElements[i])
		resp.PathIndices[i] = path.PathIndices[i]
	}
	httpWriteJSON(w, resp)
}

// nullifierStatus returns GET /nullifier/{nullifierHash}
func (a *API) nullifierStatus(w http.ResponseWriter, r *http.Request) {
	hash, ok := parseFieldElement(chi.URLParam(r, NullifierURLParam))
	if !ok {
		ErrMalformedNullifier.Write(w)
		return
	}
	resp := &NullifierResponse{NullifierHash: types.BigIntFrom(hash)}
	withdrawal, err := a.storage.Nullifier(hash.Bytes())
	switch {
	case err == nil:
		resp.Used = true
		resp.Withdrawal = withdrawal
	case errors.Is(err, storage.ErrNotFound):
		// unspent
	default:
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	httpWriteJSON(w, resp)
}

// announcements returns GET /announcements?fromBlock=N&limit=N
func (a *API) announcements(w http.ResponseWriter, r *http.Request) {
	var fromBlock uint64
	limit := defaultAnnouncementsLimit
	if s := r.URL.Query().Get("fromBlock"); s != "" {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			ErrMalformedQueryParam.Withf("fromBlock: %v", err).Write(w)
			return
		}
		fromBlock = v
	}
	if s := r.URL.Query().Get("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v <= 0 || v > 1000 {
			ErrMalformedQueryParam.With("limit must be in [1,1000]").Write(w)
			return
		}
		limit = v
	}
	list, err := a.storage.Announcements(fromBlock, limit)
	if err != nil {
		ErrGenericInternalServerError.WithErr(err).Write(w)
		return
	}
	if list == nil {
		list = []*types.AnnouncementEvent{}
	}
	httpWriteJSON(w, &AnnouncementsResponse{Announcements: list})
}
