package project

import (
	"strings"

	perrors "github.com/p-blackswan/project-assistant/internal/errors"
)

// minFuzzyLen is the shortest normalized query accepted by the substring
// and prefix stages.
const minFuzzyLen = 8

// matchStage is one request-ID matching strategy. Stages run in order; the
// first stage with exactly one hit wins, more than one hit is ambiguous.
type matchStage struct {
	name  string
	match func(query, id string) bool
}

var matchStages = []matchStage{
	{"exact", func(q, id string) bool { return q == id }},
	{"normalized", func(q, id string) bool { return normalizeID(q) == normalizeID(id) }},
	{"substring", func(q, id string) bool {
		nq := normalizeID(q)
		return len(nq) >= minFuzzyLen && strings.Contains(normalizeID(id), nq)
	}},
	{"prefix", func(q, id string) bool {
		nq, nid := normalizeID(q), normalizeID(id)
		return len(nq) >= minFuzzyLen && len(nid) >= minFuzzyLen && nq[:minFuzzyLen] == nid[:minFuzzyLen]
	}},
}

// normalizeID lowercases, trims quoting and drops hyphens so IDs survive
// the usual mangling from language model tool calls.
func normalizeID(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Trim(s, "\"'`<>[](){} ")
	return strings.ReplaceAll(s, "-", "")
}

// matchRequest finds the request whose ID best matches query among reqs.
func matchRequest(query string, reqs []*InformationRequest) (*InformationRequest, string, error) {
	if strings.TrimSpace(query) == "" {
		return nil, "", perrors.New(perrors.ErrInvalidInput, "A request ID is required.")
	}
	for _, stage := range matchStages {
		var hits []*InformationRequest
		for _, r := range reqs {
			if stage.match(query, r.RequestID) {
				hits = append(hits, r)
			}
		}
		switch len(hits) {
		case 0:
			continue
		case 1:
			return hits[0], stage.name, nil
		default:
			ids := make([]string, len(hits))
			for i, h := range hits {
				ids[i] = h.RequestID
			}
			return nil, stage.name, perrors.New(perrors.ErrAmbiguous,
				"Request ID %q matches several requests (%s). Please use the full ID.",
				query, strings.Join(ids, ", "))
		}
	}
	return nil, "", perrors.New(perrors.ErrNotFound, "Information request %q not found.", query)
}
