package restapi

import (
	"context"
	"strconv"
	"time"
)

const rfc3339 = time.RFC3339

func contextWithSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey{}, subject)
}

func subjectFrom(ctx context.Context) string {
	v, _ := ctx.Value(subjectKey{}).(string)
	return v
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

// parseLimit parses a query-param limit, falling back to def on absence or
// malformed input; store.ClampRecentLimit/ClampEditsLimit do the actual
// range enforcement.
func parseLimit(q string, def int) int {
	if q == "" {
		return def
	}
	n, err := strconv.Atoi(q)
	if err != nil {
		return def
	}
	return n
}
