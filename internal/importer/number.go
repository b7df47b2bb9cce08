package importer

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

var numberCleaner = strings.NewReplacer(",", "", " ", "", "%", "", "\u00a0", "")

// ParseNumber parses a spreadsheet value after stripping thousands
// separators, spaces and percent signs. Malformed or empty values yield nil.
func ParseNumber(s string) *float64 {
	s = numberCleaner.Replace(strings.TrimSpace(s))
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

// NewBatchID returns an import batch id of the form
// {ext}_import_{unix_millis}_{random9}.
func NewBatchID(ext string, now time.Time) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("%s_import_%d_%s", strings.ToLower(strings.TrimPrefix(ext, ".")), now.UnixMilli(), random)
}
