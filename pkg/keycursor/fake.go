package keycursor

import (
	"context"

	"github.com/block/mysql-cdc/pkg/splitkey"
)

// Fake replays a canned, pre-sorted key sequence. It is not a _test.go
// file because the assigner package's own tests need to import it to
// exercise the planner without a database.
type Fake struct {
	Keys []splitkey.Key
}

func (f *Fake) MinMaxCount(ctx context.Context) (splitkey.Key, splitkey.Key, int64, error) {
	if len(f.Keys) == 0 {
		return splitkey.Key{}, splitkey.Key{}, 0, nil
	}
	return f.Keys[0], f.Keys[len(f.Keys)-1], int64(len(f.Keys)), nil
}

func (f *Fake) NextBoundary(ctx context.Context, after splitkey.Key, skip int64) (splitkey.Key, bool, error) {
	start := 0
	if after.Kind() != splitkey.KindInvalid {
		for i, k := range f.Keys {
			if k.Compare(after) > 0 {
				start = i
				break
			}
			if i == len(f.Keys)-1 {
				return splitkey.Key{}, false, nil
			}
		}
	}
	idx := start + int(skip) - 1
	if idx >= len(f.Keys) {
		return splitkey.Key{}, false, nil
	}
	return f.Keys[idx], true, nil
}
