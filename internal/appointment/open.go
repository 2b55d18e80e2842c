package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/hackgods/dialysis-scheduling/internal/config"
	"github.com/hackgods/dialysis-scheduling/internal/db"
)

// OpenRepository connects to the store selected by cfg.StoreDriver. The
// returned func releases the connection.
func OpenRepository(ctx context.Context, cfg config.Config) (Repository, func(), error) {
	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	switch cfg.StoreDriver {
	case config.StoreMongo:
		client, err := db.ConnectMongo(connectCtx, cfg.MongoURI)
		if err != nil {
			return nil, nil, err
		}
		closeFn := func() {
			_ = client.Disconnect(context.Background())
		}
		return NewMongoRepository(client, cfg.MongoDatabase, cfg.ClinicLocation()), closeFn, nil
	case config.StorePostgres:
		pool, err := db.ConnectPostgres(connectCtx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return NewPgRepository(pool, cfg.ClinicLocation()), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
