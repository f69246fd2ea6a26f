package backend

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/stratumhq/stratum/pkg/models"
)

// matches reports whether a record satisfies all constraints in params.
func matches(rec models.Record, params models.QueryParams) bool {
	if params.Domain != "" && rec.Domain != params.Domain {
		return false
	}
	if tr := params.TimeRange; tr != nil {
		if !tr.From.IsZero() && rec.Timestamp.Before(tr.From) {
			return false
		}
		if !tr.To.IsZero() && rec.Timestamp.After(tr.To) {
			return false
		}
	}
	for _, f := range params.Filters {
		if !matchFilter(rec, f) {
			return false
		}
	}
	return true
}

func matchFilter(rec models.Record, f models.FieldFilter) bool {
	var actual interface{}
	switch f.Field {
	case "id":
		actual = rec.ID
	case "domain":
		actual = rec.Domain
	default:
		var ok bool
		actual, ok = rec.Fields[f.Field]
		if !ok {
			return false
		}
	}

	switch f.Operator {
	case models.OpEq:
		return equalValues(actual, f.Value)
	case models.OpNeq:
		return !equalValues(actual, f.Value)
	case models.OpContains:
		return strings.Contains(
			strings.ToLower(toString(actual)),
			strings.ToLower(toString(f.Value)),
		)
	case models.OpGt, models.OpGte, models.OpLt, models.OpLte:
		a, aok := toFloat(actual)
		b, bok := toFloat(f.Value)
		if !aok || !bok {
			return false
		}
		switch f.Operator {
		case models.OpGt:
			return a > b
		case models.OpGte:
			return a >= b
		case models.OpLt:
			return a < b
		default:
			return a <= b
		}
	}
	return false
}

func equalValues(a, b interface{}) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			return af == bf
		}
	}
	return toString(a) == toString(b)
}

func toString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}

// shape applies ordering, projection, and limit to a result set.
func shape(recs []models.Record, params models.QueryParams) []models.Record {
	if params.OrderBy != "" {
		sortRecords(recs, params.OrderBy, params.Descending)
	}
	if len(params.Projection) > 0 {
		keep := make(map[string]bool, len(params.Projection))
		for _, p := range params.Projection {
			keep[p] = true
		}
		for i := range recs {
			projected := make(map[string]interface{}, len(params.Projection))
			for k, v := range recs[i].Fields {
				if keep[k] {
					projected[k] = v
				}
			}
			recs[i].Fields = projected
		}
	}
	if params.Limit > 0 && len(recs) > params.Limit {
		recs = recs[:params.Limit]
	}
	return recs
}

func sortRecords(recs []models.Record, field string, descending bool) {
	sort.SliceStable(recs, func(i, j int) bool {
		less := lessByField(recs[i], recs[j], field)
		if descending {
			return !less && !sameByField(recs[i], recs[j], field)
		}
		return less
	})
}

func lessByField(a, b models.Record, field string) bool {
	if field == "timestamp" {
		return a.Timestamp.Before(b.Timestamp)
	}
	av, bv := a.Fields[field], b.Fields[field]
	if af, aok := toFloat(av); aok {
		if bf, bok := toFloat(bv); bok {
			return af < bf
		}
	}
	return toString(av) < toString(bv)
}

func sameByField(a, b models.Record, field string) bool {
	if field == "timestamp" {
		return a.Timestamp.Equal(b.Timestamp)
	}
	return toString(a.Fields[field]) == toString(b.Fields[field])
}
