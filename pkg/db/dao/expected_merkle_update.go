package dao

import (
	"github.com/uptrace/bun"
)

// singletonID is the fixed primary key of the one allowed
// ExpectedMerkleUpdate row.
const singletonID = 1

// ExpectedMerkleUpdate is a singleton row holding the next estimated
// Merkle root publication time (unix seconds).
type ExpectedMerkleUpdate struct {
	bun.BaseModel `bun:"table:expected_merkle_update,alias:emu"`

	ID       int16 `bun:"id,pk"`
	NextTime int64 `bun:"next_time,notnull"`
}

// NewExpectedMerkleUpdate builds the singleton row for the given time.
func NewExpectedMerkleUpdate(nextTime int64) *ExpectedMerkleUpdate {
	return &ExpectedMerkleUpdate{ID: singletonID, NextTime: nextTime}
}
