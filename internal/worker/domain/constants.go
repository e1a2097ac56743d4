package domain

const (
	// ScriptFileExt is the extension of archived script files
	ScriptFileExt = ".txt"
	// LedgerFileName is the append-only list of archived outcomes
	LedgerFileName = "outcomes.jsonl"
)
