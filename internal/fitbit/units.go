package fitbit

import (
	"context"
	"strings"

	"github.com/pysugar/food-log-nexus/internal/logging"
)

// UnitServing is the generic "serving" measurement unit id.
const UnitServing = 86

var unitIDs = map[string]int{
	"g":           1,
	"gram":        1,
	"grams":       1,
	"ml":          147,
	"milliliter":  147,
	"milliliters": 147,
	"oz":          13,
	"fl oz":       19,
	"serving":     UnitServing,
	"個":           UnitServing,
}

// ResolveUnit maps a free-text unit to a Fitbit measurement unit id.
// Unknown or empty units fall back to UnitServing.
func ResolveUnit(ctx context.Context, unit string) int {
	if id, ok := unitIDs[strings.ToLower(strings.TrimSpace(unit))]; ok {
		return id
	}
	logging.Printf(ctx, "⚠️ Unknown unit %q. Defaulting to 'serving'(%d).", unit, UnitServing)
	return UnitServing
}
