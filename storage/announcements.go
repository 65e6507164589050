package storage

import (
	"fmt"

	"go.vocdoni.io/dvote/db/prefixeddb"

	"github.com/veilpay/veilpay/types"
)

// Announcements returns up to limit announcements starting at fromBlock,
// in chain order. A limit of 0 means no limit.
func (s *Storage) Announcements(fromBlock uint64, limit int) ([]*types.AnnouncementEvent, error) {
	rTx := prefixeddb.NewPrefixedReader(s.db, announcementPrefix)
	var out []*types.AnnouncementEvent
	var cbErr error
	if err := rTx.Iterate(nil, func(_, v []byte) bool {
		a := &types.AnnouncementEvent{}
		if err := decodeArtifact(v, a); err != nil {
			cbErr = fmt.Errorf("decode announcement: %w", err)
			return false
		}
		if a.BlockNumber < fromBlock {
			return true
		}
		out = append(out, a)
		return limit <= 0 || len(out) < limit
	}); err != nil {
		return nil, fmt.Errorf("iterate announcements: %w", err)
	}
	if cbErr != nil {
		return nil, cbErr
	}
	return out, nil
}
