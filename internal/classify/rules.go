package classify

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Rules holds the allowlists, type markers, and keywords the classifier
// cascade matches against, plus the per-tier confidence scores. Zero-value
// fields fall back to the compiled-in defaults.
type Rules struct {
	PaidAPITypes   []string `yaml:"paid_api_types"`
	PaidAPIDomains []string `yaml:"paid_api_domains"`

	GovernmentDomains  []string `yaml:"government_domains"`
	GovernmentSuffixes []string `yaml:"government_suffixes"`

	PeerReviewedDomains []string `yaml:"peer_reviewed_domains"`
	ResearchTypes       []string `yaml:"research_types"`

	IndustryDomains []string `yaml:"industry_domains"`
	IndustryTypes   []string `yaml:"industry_types"`

	CompanyDomains  []string `yaml:"company_domains"`
	CompanyKeywords []string `yaml:"company_keywords"`
	CompanyTypes    []string `yaml:"company_types"`

	NewsDomains []string `yaml:"news_domains"`
	NewsTypes   []string `yaml:"news_types"`

	// Confidence maps tier name → score. Missing tiers get defaults.
	Confidence map[string]float64 `yaml:"confidence"`
}

var defaultConfidence = map[string]float64{
	"paid_api":      0.95,
	"government":    0.90,
	"peer_reviewed": 0.85,
	"industry":      0.80,
	"company":       0.70,
	"news":          0.60,
	"unknown":       0.50,
}

// DefaultRules returns the compiled-in rule set.
func DefaultRules() *Rules {
	r := &Rules{
		PaidAPITypes: []string{"api", "paid_api", "commercial_api", "data_api"},
		PaidAPIDomains: []string{
			"crunchbase.com", "pitchbook.com", "zoominfo.com", "dnb.com",
			"clearbit.com", "apollo.io", "lexisnexis.com", "spglobal.com",
			"moodys.com", "factset.com",
		},
		GovernmentDomains: []string{
			"europa.eu", "un.org", "who.int", "oecd.org", "imf.org",
			"worldbank.org", "ecb.europa.eu",
		},
		GovernmentSuffixes: []string{
			".gov", ".mil", ".edu",
			".gov.uk", ".gc.ca", ".gov.au", ".gov.in", ".gov.sg", ".go.jp",
			".ac.uk", ".edu.au", ".ac.jp",
		},
		PeerReviewedDomains: []string{
			"nature.com", "science.org", "sciencedirect.com", "springer.com",
			"wiley.com", "onlinelibrary.wiley.com", "thelancet.com",
			"nejm.org", "bmj.com", "cell.com", "plos.org", "frontiersin.org",
			"arxiv.org", "biorxiv.org", "medrxiv.org", "ssrn.com",
			"jstor.org", "ieee.org", "acm.org", "doi.org",
		},
		ResearchTypes: []string{
			"research", "academic", "journal", "peer_reviewed",
			"clinical_trial",
		},
		IndustryDomains: []string{
			"gartner.com", "forrester.com", "idc.com", "mckinsey.com",
			"bcg.com", "bain.com", "deloitte.com", "pwc.com", "kpmg.com",
			"ey.com", "statista.com", "ibisworld.com", "frost.com",
			"cbinsights.com",
		},
		IndustryTypes: []string{"industry", "analyst", "market_research"},
		CompanyDomains: []string{
			"prnewswire.com", "businesswire.com", "globenewswire.com",
			"linkedin.com",
		},
		CompanyKeywords: []string{
			"pharma", "biotech", "therapeutics", "biosciences",
			"laboratories", "technologies", "-corp", "-inc",
		},
		CompanyTypes: []string{"company", "official", "press_release", "corporate"},
		NewsDomains: []string{
			"reuters.com", "bloomberg.com", "wsj.com", "ft.com",
			"nytimes.com", "cnbc.com", "forbes.com", "fortune.com",
			"techcrunch.com", "theverge.com", "wired.com", "axios.com",
			"businessinsider.com", "economist.com", "theguardian.com",
			"apnews.com", "fiercebiotech.com", "fiercepharma.com",
			"statnews.com", "endpts.com",
		},
		NewsTypes:  []string{"news", "press", "media"},
		Confidence: map[string]float64{},
	}
	for tier, v := range defaultConfidence {
		r.Confidence[tier] = v
	}
	return r
}

// LoadRules reads classifier rules from a YAML file. Fields left empty in
// the file keep their compiled-in defaults.
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "classify: read rules %s", path)
	}

	// The YAML has a top-level "classify" key
	var wrapper struct {
		Classify Rules `yaml:"classify"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "classify: parse rules")
	}

	r := &wrapper.Classify
	r.fillDefaults()
	return r, nil
}

func (r *Rules) fillDefaults() {
	d := DefaultRules()
	if len(r.PaidAPITypes) == 0 {
		r.PaidAPITypes = d.PaidAPITypes
	}
	if len(r.PaidAPIDomains) == 0 {
		r.PaidAPIDomains = d.PaidAPIDomains
	}
	if len(r.GovernmentDomains) == 0 {
		r.GovernmentDomains = d.GovernmentDomains
	}
	if len(r.GovernmentSuffixes) == 0 {
		r.GovernmentSuffixes = d.GovernmentSuffixes
	}
	if len(r.PeerReviewedDomains) == 0 {
		r.PeerReviewedDomains = d.PeerReviewedDomains
	}
	if len(r.ResearchTypes) == 0 {
		r.ResearchTypes = d.ResearchTypes
	}
	if len(r.IndustryDomains) == 0 {
		r.IndustryDomains = d.IndustryDomains
	}
	if len(r.IndustryTypes) == 0 {
		r.IndustryTypes = d.IndustryTypes
	}
	if len(r.CompanyDomains) == 0 {
		r.CompanyDomains = d.CompanyDomains
	}
	if len(r.CompanyKeywords) == 0 {
		r.CompanyKeywords = d.CompanyKeywords
	}
	if len(r.CompanyTypes) == 0 {
		r.CompanyTypes = d.CompanyTypes
	}
	if len(r.NewsDomains) == 0 {
		r.NewsDomains = d.NewsDomains
	}
	if len(r.NewsTypes) == 0 {
		r.NewsTypes = d.NewsTypes
	}
	if r.Confidence == nil {
		r.Confidence = map[string]float64{}
	}
	for tier, v := range d.Confidence {
		if _, ok := r.Confidence[tier]; !ok {
			r.Confidence[tier] = v
		}
	}
}
