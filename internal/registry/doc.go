// Package registry multiplexes commands and state across all configured
// Android TV devices.
//
// The Registry owns one session.Session per device id, persists device
// configuration in SQLite through the Store interface, and forwards
// attribute changes from every session to a single upstream Notifier.
//
// Lifecycle:
//
//	store := registry.NewSQLiteStore(db)
//	reg, err := registry.New(registry.Options{
//	    Store:    store,
//	    Resolver: resolver,
//	    Notifier: publisher,
//	    CertDir:  "/var/lib/atvbridge/certs",
//	})
//	if err != nil { ... }
//	if err := reg.Start(ctx); err != nil { ... }
//	defer reg.Close()
//
//	err = reg.Dispatch(ctx, "living-room-tv", "PLAY_PAUSE", nil)
//
// Failures are isolated per device: a session stuck reconnecting or waiting
// for a pairing PIN never affects its siblings, and hub clients coming and
// going never touches a session (OnClientDisconnect is state-free).
package registry
