package model

// Result is a single item returned by a provider search.
type Result struct {
	Title          string  `json:"title"`
	Content        string  `json:"content"`
	URL            string  `json:"url,omitempty"`
	RelevanceScore float64 `json:"relevance_score"`
	SourceType     string  `json:"source_type,omitempty"`
}

// SourceAttribution identifies where a result came from.
type SourceAttribution struct {
	URL              string  `json:"url"`
	Domain           string  `json:"domain"`
	SourceType       string  `json:"source_type"`
	CredibilityScore float64 `json:"credibility_score"`
}

// ProviderResponse is the immutable outcome of one provider call.
type ProviderResponse struct {
	Provider        string              `json:"provider"`
	Query           string              `json:"query"`
	Temperature     float64             `json:"temperature"`
	Results         []Result            `json:"results"`
	Sources         []SourceAttribution `json:"sources"`
	Cost            float64             `json:"cost"`
	ResponseTimeMs  int64               `json:"response_time_ms"`
	RelevanceScore  float64             `json:"relevance_score"`
	ConfidenceScore float64             `json:"confidence_score"`
	Error           string              `json:"error,omitempty"`
}

// Failed reports whether the provider call produced an error instead of
// usable results.
func (r *ProviderResponse) Failed() bool {
	return r.Error != ""
}

// TemperatureResult is one temperature's outcome in a multi-temperature
// search.
type TemperatureResult struct {
	Temperature     float64           `json:"temperature"`
	Response        *ProviderResponse `json:"response,omitempty"`
	ExecutionTimeMs int64             `json:"execution_time_ms"`
	Cost            float64           `json:"cost"`
	Cached          bool              `json:"cached"`
}
