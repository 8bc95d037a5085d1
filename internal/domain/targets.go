package domain

import "strings"

// TargetSet is the ordered list of AEP percentages of interest, held as
// exact decimal strings ("0.2", "1", ... "50") so derived keys compare by
// string equality with no float round-trip. Order is the output row order.
type TargetSet []string

// Contains reports whether key is a member of the target set.
func (ts TargetSet) Contains(key string) bool {
	for _, t := range ts {
		if t == key {
			return true
		}
	}
	return false
}

// ParseAEPCode derives the AEP key from a statistic descriptor code:
// trailing "AEP" marker trimmed, text after the "PK" peak-flow marker kept,
// "_" replaced with ".". Returns false for codes without the marker.
func ParseAEPCode(code string) (string, bool) {
	trimmed := strings.TrimSuffix(code, "AEP")
	_, after, found := strings.Cut(trimmed, "PK")
	if !found || after == "" {
		return "", false
	}
	return strings.ReplaceAll(after, "_", "."), true
}
