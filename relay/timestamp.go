package relay

import (
	"sort"
	"time"

	"github.com/chainpoint/chainpoint-bridge/types"
)

// medianTimePast returns the median timestamp of the last MedianTimeSpan headers ending at tip.
// Near the relay start fewer headers are available and the median is taken over those.
func (cm *ChainManager) medianTimePast(tip *Header) (time.Time, error) {
	timestamps := make([]int64, 0, cm.params.MedianTimeSpan)
	cursor := tip
	for len(timestamps) < cm.params.MedianTimeSpan {
		timestamps = append(timestamps, cursor.Block.Timestamp.Unix())
		parent, err := cm.store.GetHeader(cursor.Block.PrevBlock.String())
		if err != nil {
			return time.Time{}, err
		}
		if parent == nil {
			break
		}
		cursor = parent
	}
	sort.Slice(timestamps, func(i, j int) bool { return timestamps[i] < timestamps[j] })
	return time.Unix(timestamps[len(timestamps)/2], 0), nil
}

// checkTimestamp : strictly after the median time past, and not too far ahead of the ledger clock
func (cm *ChainManager) checkTimestamp(parent *Header, timestamp time.Time) error {
	mtp, err := cm.medianTimePast(parent)
	if err != nil {
		return err
	}
	if !timestamp.After(mtp) {
		return types.Wrap(types.ErrTimestampInvalid, "%d not after median time past %d", timestamp.Unix(), mtp.Unix())
	}
	if !cm.now.IsZero() && cm.params.MaxFutureDrift > 0 && timestamp.After(cm.now.Add(cm.params.MaxFutureDrift)) {
		return types.Wrap(types.ErrTimestampInvalid, "%d too far in the future", timestamp.Unix())
	}
	return nil
}
