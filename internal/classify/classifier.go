// Package classify assigns trust tiers to sources. Classification is a
// deterministic rule cascade evaluated in priority order (first match wins);
// it is pure, side-effect-free, and recomputed per source.
package classify

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/sells-group/intel-engine/internal/model"
)

var (
	doiPattern  = regexp.MustCompile(`\b10\.\d{4,9}/[^\s"<>]+`)
	pmidPattern = regexp.MustCompile(`(?i)\bpmid[=:/]?\s*\d{1,9}\b`)
	nctPattern  = regexp.MustCompile(`(?i)\bNCT\d{8}\b`)
)

// Classifier maps a source attribution to a priority tier and confidence.
type Classifier struct {
	rules *Rules

	paidTypes     map[string]struct{}
	researchTypes map[string]struct{}
	industryTypes map[string]struct{}
	companyTypes  map[string]struct{}
	newsTypes     map[string]struct{}
}

// New builds a classifier from the given rules. A nil rules argument uses
// the compiled-in defaults.
func New(rules *Rules) *Classifier {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Classifier{
		rules:         rules,
		paidTypes:     toSet(rules.PaidAPITypes),
		researchTypes: toSet(rules.ResearchTypes),
		industryTypes: toSet(rules.IndustryTypes),
		companyTypes:  toSet(rules.CompanyTypes),
		newsTypes:     toSet(rules.NewsTypes),
	}
}

// Classify resolves one source to a tier. Malformed or empty sources degrade
// to the unknown tier instead of erroring.
func (c *Classifier) Classify(src model.SourceAttribution) model.SourceClassification {
	domain := NormalizeDomain(src.URL, src.Domain)
	srcType := strings.ToLower(strings.TrimSpace(src.SourceType))

	priority, rule := c.resolve(domain, srcType, src.URL)
	return model.SourceClassification{
		URL:        src.URL,
		Domain:     domain,
		Priority:   priority,
		Category:   priority.String(),
		Confidence: c.Confidence(priority),
		Metadata:   map[string]any{"rule": rule},
	}
}

// ClassifyBatch classifies every source and returns per-tier counts keyed by
// tier name.
func (c *Classifier) ClassifyBatch(sources []model.SourceAttribution) ([]model.SourceClassification, map[string]int) {
	out := make([]model.SourceClassification, 0, len(sources))
	counts := make(map[string]int)
	for _, src := range sources {
		cls := c.Classify(src)
		out = append(out, cls)
		counts[cls.Priority.String()]++
	}
	return out, counts
}

// resolve runs the cascade. Branch order is the tier order: a source that
// matches two branches gets the more authoritative one.
func (c *Classifier) resolve(domain, srcType, rawURL string) (model.SourcePriority, string) {
	if domain == "" && srcType == "" {
		return model.PriorityUnknown, "unclassifiable"
	}

	if _, ok := c.paidTypes[srcType]; ok {
		return model.PriorityPaidAPI, "paid_api_type"
	}
	if matchesAnyDomain(domain, c.rules.PaidAPIDomains) {
		return model.PriorityPaidAPI, "paid_api_domain"
	}

	if matchesAnyDomain(domain, c.rules.GovernmentDomains) {
		return model.PriorityGovernment, "government_domain"
	}
	for _, suffix := range c.rules.GovernmentSuffixes {
		// Match "data.gov.uk" by suffix and the bare "gov.uk" by equality.
		if strings.HasSuffix(domain, suffix) || domain == strings.TrimPrefix(suffix, ".") {
			return model.PriorityGovernment, "government_suffix"
		}
	}

	if matchesAnyDomain(domain, c.rules.PeerReviewedDomains) {
		return model.PriorityPeerReviewed, "peer_reviewed_domain"
	}
	if doiPattern.MatchString(rawURL) || pmidPattern.MatchString(rawURL) || nctPattern.MatchString(rawURL) {
		return model.PriorityPeerReviewed, "publication_id"
	}
	if _, ok := c.researchTypes[srcType]; ok {
		return model.PriorityPeerReviewed, "research_type"
	}

	if matchesAnyDomain(domain, c.rules.IndustryDomains) {
		return model.PriorityIndustry, "industry_domain"
	}
	if _, ok := c.industryTypes[srcType]; ok {
		return model.PriorityIndustry, "industry_type"
	}

	if matchesAnyDomain(domain, c.rules.CompanyDomains) {
		return model.PriorityCompany, "company_domain"
	}
	for _, kw := range c.rules.CompanyKeywords {
		if kw != "" && strings.Contains(domain, kw) {
			return model.PriorityCompany, "company_keyword"
		}
	}
	if _, ok := c.companyTypes[srcType]; ok {
		return model.PriorityCompany, "company_type"
	}

	if matchesAnyDomain(domain, c.rules.NewsDomains) {
		return model.PriorityNews, "news_domain"
	}
	if _, ok := c.newsTypes[srcType]; ok {
		return model.PriorityNews, "news_type"
	}

	return model.PriorityUnknown, "no_match"
}

// Confidence returns the configured confidence score for a tier.
func (c *Classifier) Confidence(p model.SourcePriority) float64 {
	if v, ok := c.rules.Confidence[p.String()]; ok {
		return v
	}
	return defaultConfidence["unknown"]
}

// NormalizeDomain lowercases the declared domain or derives one from the
// URL, stripping the www prefix and any port. Unparseable input yields "".
func NormalizeDomain(rawURL, declared string) string {
	if declared != "" {
		return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(declared)), "www.")
	}
	if rawURL == "" {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		// Schemeless URLs like "example.com/page" parse as a bare path.
		u, err = url.Parse("https://" + rawURL)
		if err != nil {
			return ""
		}
	}
	host := strings.ToLower(u.Hostname())
	return strings.TrimPrefix(host, "www.")
}

// matchesAnyDomain reports whether domain equals or is a subdomain of any
// allowed entry.
func matchesAnyDomain(domain string, allowed []string) bool {
	if domain == "" {
		return false
	}
	for _, a := range allowed {
		if domain == a || strings.HasSuffix(domain, "."+a) {
			return true
		}
	}
	return false
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		set[strings.ToLower(it)] = struct{}{}
	}
	return set
}
