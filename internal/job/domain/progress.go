package domain

// Progress is the normalized view of a backend state.
type Progress struct {
	Percent int    `json:"percent"`
	Label   string `json:"label"`
}

var startingProgress = Progress{Percent: 0, Label: "Starting..."}

var progressTable = map[string]Progress{
	StateStarting:   startingProgress,
	StateScraping:   {Percent: 25, Label: "Scraping content..."},
	StateAnalyzing:  {Percent: 50, Label: "Analyzing style..."},
	StateGenerating: {Percent: 75, Label: "Generating script..."},
	StateSuccess:    {Percent: 100, Label: "Generated successfully!"},
}

// ProgressFor maps any backend state to its progress. States the client does
// not know about, PENDING included, fall back to the starting progress.
func ProgressFor(state string) Progress {
	if p, ok := progressTable[state]; ok {
		return p
	}
	return startingProgress
}
