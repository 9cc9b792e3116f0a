package file

import (
	"context"
	"database/sql"
	"os"

	"github.com/sqldef/schemadiff/database"
	"github.com/sqldef/schemadiff/schema"
)

// Pseudo database for comparison between a YAML model and a live one
type FileDatabase struct {
	file    string
	dialect schema.Dialect
}

var _ database.Database = (*FileDatabase)(nil)

func NewDatabase(file string, dialect schema.Dialect) *FileDatabase {
	return &FileDatabase{
		file:    file,
		dialect: dialect,
	}
}

func (f *FileDatabase) Read(_ context.Context) (*schema.Database, error) {
	buf, err := os.ReadFile(f.file)
	if err != nil {
		return nil, err
	}
	return Parse(f.file, buf, f.dialect)
}

func (f *FileDatabase) DB() *sql.DB {
	return nil
}

func (f *FileDatabase) Close() error {
	return nil
}

// ReadOverrides reads override documents in order.
func ReadOverrides(paths ...string) ([]schema.Override, error) {
	var overrides []schema.Override
	for _, path := range paths {
		buf, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		parsed, err := ParseOverrides(path, buf)
		if err != nil {
			return nil, err
		}
		overrides = append(overrides, parsed...)
	}
	return overrides, nil
}
