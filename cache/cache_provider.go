package cache

import (
	"context"

	"github.com/nodegeo/nodegeo/utils"
)

type CacheProvider interface {
	Fetch(ctx context.Context, address string) (*utils.GeoResult, bool)
	Add(ctx context.Context, address string, result *utils.GeoResult)
	Clear(ctx context.Context)
	Len() int
}
