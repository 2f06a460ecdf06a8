package database

import (
	"database/sql/driver"
	"fmt"
	"time"
)

// sortableLayout keeps fixed-width fractions so TEXT columns order chronologically.
const sortableLayout = "2006-01-02T15:04:05.000000000Z07:00"

// TimeArg converts t into a bind argument for the driver.
// SQLite stores timestamps as sortable UTC text; PostgreSQL binds time.Time natively.
func TimeArg(d Driver, t time.Time) any {
	if d == DriverSQLite {
		return t.UTC().Format(sortableLayout)
	}
	return t.UTC()
}

// Timestamp scans a timestamp column from either backend.
type Timestamp struct {
	Time time.Time
}

// Scan implements sql.Scanner.
func (ts *Timestamp) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		ts.Time = time.Time{}
	case time.Time:
		ts.Time = v.UTC()
	case string:
		return ts.parse(v)
	case []byte:
		return ts.parse(string(v))
	case int64:
		ts.Time = time.Unix(v, 0).UTC()
	default:
		return fmt.Errorf("cannot scan %T into Timestamp", src)
	}
	return nil
}

// Value implements driver.Valuer.
func (ts Timestamp) Value() (driver.Value, error) {
	return ts.Time.UTC().Format(sortableLayout), nil
}

func (ts *Timestamp) parse(s string) error {
	for _, layout := range []string{sortableLayout, time.RFC3339Nano, "2006-01-02 15:04:05.999999999-07:00", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			ts.Time = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("cannot parse timestamp %q", s)
}
