package sqlutil

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Helper functions for converting between Go types and nullable SQL values

// DecimalFromText parses a numeric column selected as ::text.
func DecimalFromText(val string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(val)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse numeric %q: %w", val, err)
	}
	return d, nil
}

// NullDecimalFromText parses a nullable numeric column selected as ::text.
func NullDecimalFromText(val *string) (*decimal.Decimal, error) {
	if val == nil {
		return nil, nil
	}
	d, err := DecimalFromText(*val)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// FromSqlTime converts sql.NullTime to Go time pointer
func FromSqlTime(val sql.NullTime) *time.Time {
	if !val.Valid {
		return nil
	}
	return &val.Time
}
