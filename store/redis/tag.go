package redis

import (
	"context"
	"sort"
	"strconv"
)

// JobsForTag returns the IDs of all jobs bearing the tag, sorted
// ascending. An unknown tag yields an empty slice.
func (s *Store) JobsForTag(ctx context.Context, tagName string) ([]int64, error) {
	members, err := s.client.SMembers(ctx, tagKey(tagName)).Result()
	if err != nil {
		return nil, storeErr("jobs for tag", err)
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			return nil, storeErr("jobs for tag decode", err)
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, k int) bool { return ids[i] < ids[k] })
	return ids, nil
}
