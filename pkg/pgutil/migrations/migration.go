// Package migrations holds migrations related helpers
package migrations

import (
	"context"
	"fmt"
	"log"
	"reflect"
	"strings"

	"github.com/uptrace/bun"
)

// CreateSchema creates schema from models
func CreateSchema(ctx context.Context, db bun.IDB, models ...any) error {
	for _, model := range models {
		log.Println("Creating Table for", reflect.TypeOf(model))
		_, err := db.NewCreateTable().
			Model(model).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return err
		}
	}
	return nil
}

// CreateModelIndexes creates a single index spanning the given columns on
// the table associated with model, named idx_<table>_<col1>_<col2>...
func CreateModelIndexes(ctx context.Context, db bun.IDB, model any, columns ...string) error {
	name, err := modelIndexName(db, model, columns...)
	if err != nil {
		return err
	}
	_, err = db.NewCreateIndex().
		Model(model).
		Index(name).
		Column(columns...).
		IfNotExists().
		Exec(ctx)
	return err
}

func modelIndexName(db bun.IDB, model any, columns ...string) (string, error) {
	if model == nil {
		return "", fmt.Errorf("model cannot be nil")
	}
	tableName := db.NewCreateIndex().Model(model).GetTableName()
	if tableName == "" {
		return "", fmt.Errorf("failed to resolve table name for model %T", model)
	}

	indexTableName := strings.NewReplacer(`"`, "", ".", "_").Replace(tableName)
	name := "idx_" + indexTableName
	for _, c := range columns {
		name += "_" + c
	}
	return name, nil
}
