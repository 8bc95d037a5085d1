package domain

import "strings"

// TokenPolicy is the ordered list of descriptor-name tokens tried, first
// match wins, when more preferred candidates survive than there are targets.
type TokenPolicy []string

// statCandidate pairs a selected statistic with the descriptor name it was
// derived from, kept only for token matching.
type statCandidate struct {
	stat SelectedStat
	name string
}

// SelectPreferred reduces a gage's raw statistic records to at most one
// statistic per target AEP key:
//
//  1. keep preferred records whose code parses to a target-set key and
//     whose descriptor name is present;
//  2. if more candidates remain than targets, keep only those whose name
//     contains the first policy token with any match; no token matching
//     means the site gets no source-A statistics at all;
//  3. dedupe per key, first occurrence wins.
//
// A key absent from the result simply means source A had no usable
// statistic for it.
func SelectPreferred(records []StatRecord, targets TargetSet, tokens TokenPolicy) []SelectedStat {
	var candidates []statCandidate
	for _, rec := range records {
		if !rec.IsPreferred {
			continue
		}
		key, ok := ParseAEPCode(rec.RegressionType.Code)
		if !ok || !targets.Contains(key) {
			continue
		}
		if rec.RegressionType.Name == "" {
			continue
		}
		candidates = append(candidates, statCandidate{
			stat: SelectedStat{
				AEP:           key,
				FlowCFS:       rec.Value,
				YearsOfRecord: rec.YearsOfRecord,
				CitationID:    rec.CitationID,
			},
			name: rec.RegressionType.Name,
		})
	}

	if len(candidates) > len(targets) {
		candidates = applyTokenPolicy(candidates, tokens)
	}

	seen := make(map[string]bool, len(targets))
	out := make([]SelectedStat, 0, len(candidates))
	for _, c := range candidates {
		if seen[c.stat.AEP] {
			continue
		}
		seen[c.stat.AEP] = true
		out = append(out, c.stat)
	}
	return out
}

// applyTokenPolicy keeps the candidates matching the first token with any
// match. No match on any token returns nil: competing statistics with no
// recognizable method marker are dropped rather than guessed between.
func applyTokenPolicy(candidates []statCandidate, tokens TokenPolicy) []statCandidate {
	for _, token := range tokens {
		var matched []statCandidate
		for _, c := range candidates {
			if strings.Contains(c.name, token) {
				matched = append(matched, c)
			}
		}
		if len(matched) > 0 {
			return matched
		}
	}
	return nil
}
