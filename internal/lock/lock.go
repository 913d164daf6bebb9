// Package lock serialises mutations of rooms and visitors. Keys are always
// acquired in sorted order so two callers asking for overlapping sets cannot
// deadlock.
package lock

import (
	"context"
	"errors"
	"sort"
)

var (
	ErrLockTimeout = errors.New("lock: timed out waiting for key")
	ErrLockLost    = errors.New("lock: lease taken over")
)

// Locker acquires every key or none. The returned unlock releases all of
// them and is safe to call more than once.
type Locker interface {
	Lock(ctx context.Context, keys ...string) (unlock func(), err error)
}

func RoomKey(roomID string) string {
	return "room:" + roomID
}

func VisitorKey(visitorID string) string {
	return "visitor:" + visitorID
}

func VisitorNameKey(username string) string {
	return "visitor-name:" + username
}

func normalize(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
