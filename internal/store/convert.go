package store

// convert.go maps loader row values and run fields to pgx types.
//
// Loader rows carry plain Go values; decimals and UUIDs are converted to
// their pgtype counterparts here so the loader stays driver-agnostic.
// Helpers return Valid=false for empty input so the database stores NULL.

import (
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// toPg converts one row value for pgx.
func toPg(v any) any {
	switch x := v.(type) {
	case decimal.Decimal:
		return toPgNumeric(x)
	case uuid.UUID:
		return pgtype.UUID{Bytes: x, Valid: true}
	default:
		return v
	}
}

// toPgNumeric converts a decimal to pgtype.Numeric through its string form.
func toPgNumeric(d decimal.Decimal) pgtype.Numeric {
	var n pgtype.Numeric
	if err := n.Scan(d.String()); err != nil {
		return pgtype.Numeric{Valid: false}
	}
	return n
}

// toPgText converts a string to pgtype.Text.
// Returns invalid if the string is empty or only whitespace.
func toPgText(s string) pgtype.Text {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}

// pgUUID returns the uuid of u, or uuid.Nil when u is NULL.
func pgUUID(u pgtype.UUID) uuid.UUID {
	if !u.Valid {
		return uuid.Nil
	}
	return uuid.UUID(u.Bytes)
}
