package service

import "github.com/Guizzs26/go-region-sync/internal/db"

// StoreProvider hands out the independent store of each region
type StoreProvider interface {
	Store(code string) (db.Store, bool)
}
