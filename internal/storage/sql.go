package storage

import (
	"database/sql/driver"

	"github.com/pkg/errors"
)

func (conn *Connection) UpdateOnly(model interface{}, includeColumns ...string) error {
	includeColumns = append(includeColumns, "updated_at")
	return conn.UpdateColumns(model, includeColumns...)
}

// NullString is a string that may be stored as NULL, without the sql.NullString
// struct wrapper leaking into JSON representations.
type NullString string

func (ns NullString) String() string {
	return string(ns)
}

// Value implements the driver.Valuer interface.
func (ns NullString) Value() (driver.Value, error) {
	if ns == "" {
		return nil, nil
	}
	return string(ns), nil
}

// Scan implements the sql.Scanner interface.
func (ns *NullString) Scan(value interface{}) error {
	if value == nil {
		*ns = ""
		return nil
	}
	switch v := value.(type) {
	case string:
		*ns = NullString(v)
	case []byte:
		*ns = NullString(v)
	default:
		return errors.Errorf("unable to scan %T into NullString", value)
	}
	return nil
}
