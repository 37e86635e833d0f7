// Package paired keeps the list of devices this node holds secret shards
// for, and delivers each shard when its aggregator shows up on the network.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────┐
//	│                          Registry                            │
//	│                                                              │
//	│  ┌────────────────┐   ┌────────────────┐   ┌──────────────┐  │
//	│  │  device list   │   │   Repository   │   │    broker    │  │
//	│  │ (registry.go)  │──▶│(repository.go) │   │ (events.go)  │  │
//	│  │ one per device │   │ shard_keys     │   │ Subscribe()  │  │
//	│  └────────────────┘   └────────────────┘   └──────────────┘  │
//	│          │                                                   │
//	└──────────│───────────────────────────────────────────────────┘
//	           │ Init: Scanner.Scan ──▶ match distribution + identity
//	           ▼
//	     Provisioner.Provision (one in flight per device)
//
// # Usage
//
//	repo := paired.NewSQLiteRepository(db.DB)
//	registry := paired.NewRegistry(repo, discoverySvc, provider)
//	registry.SetLogger(log)
//
//	if err := registry.Init(ctx); err != nil {
//	    return err
//	}
//	defer registry.Stop()
//
//	dev, added, err := registry.AddShardKey(ctx, paired.ShardKey{
//	    DistributionID: "dist-1",
//	    Device:         paired.DeviceInfo{GlobalID: "phone-7"},
//	    Shard:          share,
//	})
//
// # Thread Safety
//
// Registry and SQLiteRepository are safe for concurrent use.
package paired
