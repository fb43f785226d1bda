package market

import (
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"marketd/core/events"
)

// ClosedPositionRow is one paginated row of the closed-position read model.
// It is a read-only projection: state/store.go's Manager remains the
// authoritative ledger, and Archive can always be rebuilt by replaying the
// event stream from genesis.
type ClosedPositionRow struct {
	ID            string `gorm:"primaryKey"`
	OwnerKey      string `gorm:"index"`
	NotionalSize  string
	Reason        string
	PayoutToOwner string
	PoolReceived  string
	ClosedAt      int64 `gorm:"index"`
}

func (ClosedPositionRow) TableName() string { return "closed_positions" }

// Archive is a denormalized sqlite projection of closed positions, fed by
// the engine's event stream so PositionsByOwner can serve paginated
// history without walking state/store.go's keyed store (spec §6
// "PositionsByOwner").
type Archive struct {
	db *gorm.DB
}

// OpenArchive opens (creating if necessary) the sqlite database at path and
// migrates the read-model schema.
func OpenArchive(path string) (*Archive, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&ClosedPositionRow{}); err != nil {
		return nil, err
	}
	return &Archive{db: db}, nil
}

// Close releases the underlying database handle.
func (a *Archive) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Emit implements events.Emitter: every PositionCloseEvent is upserted into
// the read model; every other event type is ignored. closedAt is stamped as
// wall-clock time of ingestion rather than carried on the event, since the
// event stream itself is not time-stamped (the engine is driven by caller-
// supplied `now`, which this emitter does not see).
func (a *Archive) Emit(ev events.Event) {
	if a == nil || a.db == nil {
		return
	}
	closeEv, ok := ev.(PositionCloseEvent)
	if !ok {
		return
	}
	row := ClosedPositionRow{
		ID:            string(closeEv.ID),
		OwnerKey:      closeEv.Owner,
		NotionalSize:  closeEv.NotionalSize,
		Reason:        closeReasonString(closeEv.Reason),
		PayoutToOwner: closeEv.PayoutToOwner,
		PoolReceived:  closeEv.PoolReceived,
		ClosedAt:      time.Now().Unix(),
	}
	a.db.Save(&row)
}

// PositionsByOwner returns up to limit closed-position rows for owner,
// newest first, skipping offset rows (spec §6 "PositionsByOwner" pagination).
func (a *Archive) PositionsByOwner(ownerKey string, limit, offset int) ([]ClosedPositionRow, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []ClosedPositionRow
	err := a.db.Where("owner_key = ?", ownerKey).
		Order("closed_at desc, id desc").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	return rows, err
}
