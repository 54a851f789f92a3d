package model

import "fmt"

// SourcePriority ranks a source's trust tier. Lower values are more
// authoritative.
type SourcePriority int

const (
	PriorityPaidAPI      SourcePriority = 1
	PriorityGovernment   SourcePriority = 2
	PriorityPeerReviewed SourcePriority = 3
	PriorityIndustry     SourcePriority = 4
	PriorityCompany      SourcePriority = 5
	PriorityNews         SourcePriority = 6
	PriorityUnknown      SourcePriority = 99
)

var priorityNames = map[SourcePriority]string{
	PriorityPaidAPI:      "paid_api",
	PriorityGovernment:   "government",
	PriorityPeerReviewed: "peer_reviewed",
	PriorityIndustry:     "industry",
	PriorityCompany:      "company",
	PriorityNews:         "news",
	PriorityUnknown:      "unknown",
}

func (p SourcePriority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// MoreAuthoritativeOrEqual reports whether p ranks at least as high as other.
func (p SourcePriority) MoreAuthoritativeOrEqual(other SourcePriority) bool {
	return p <= other
}

// TierOrder returns all priorities from most to least authoritative.
func TierOrder() []SourcePriority {
	return []SourcePriority{
		PriorityPaidAPI,
		PriorityGovernment,
		PriorityPeerReviewed,
		PriorityIndustry,
		PriorityCompany,
		PriorityNews,
		PriorityUnknown,
	}
}

// ParsePriority maps a tier name to its priority. Unknown names map to
// PriorityUnknown.
func ParsePriority(name string) SourcePriority {
	for p, n := range priorityNames {
		if n == name {
			return p
		}
	}
	return PriorityUnknown
}

// SourceClassification is the derived trust assessment of one source. It is
// recomputed per source and never persisted with identity.
type SourceClassification struct {
	URL        string         `json:"url"`
	Domain     string         `json:"domain"`
	Priority   SourcePriority `json:"priority"`
	Category   string         `json:"category"`
	Confidence float64        `json:"confidence"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}
