package mcpsurface

// SearchInput is the input schema for the search tool.
type SearchInput struct {
	Query    string `json:"query" jsonschema:"the semantic search query"`
	Limit    int    `json:"limit,omitempty" jsonschema:"maximum number of results, default 5"`
	Language string `json:"language,omitempty" jsonschema:"filter results to this language, e.g. go, python"`
	Kind     string `json:"kind,omitempty" jsonschema:"filter results to this chunk kind, e.g. function, class"`
}

// SearchResultOutput is one ranked hit in a SearchOutput.
type SearchResultOutput struct {
	RelativePath string  `json:"relative_path" jsonschema:"file path relative to the repository root"`
	StartLine    int     `json:"start_line" jsonschema:"1-indexed start line of the matched chunk"`
	EndLine      int     `json:"end_line" jsonschema:"1-indexed end line of the matched chunk"`
	Kind         string  `json:"kind" jsonschema:"chunk kind, e.g. function, class, comment"`
	Name         string  `json:"name,omitempty" jsonschema:"symbol name, when the chunk is a named declaration"`
	Language     string  `json:"language" jsonschema:"source language of the matched file"`
	Snippet      string  `json:"snippet" jsonschema:"preview of the matched content"`
	Score        float64 `json:"score" jsonschema:"cosine similarity score, higher is more relevant"`
}

// SearchOutput is the output schema for the search tool.
type SearchOutput struct {
	Results []SearchResultOutput `json:"results" jsonschema:"ranked search results"`
}

// StatusInput is the (empty) input schema for the status tool.
type StatusInput struct{}

// StatusOutput is the output schema for the status tool.
type StatusOutput struct {
	FilesIndexed        int      `json:"files_indexed"`
	FilesFailed         int      `json:"files_failed"`
	FilesPending        int      `json:"files_pending"`
	ChunksConsumedToday int      `json:"chunks_consumed_today"`
	DailyLimit          int      `json:"daily_limit"`
	PointsCount         int      `json:"points_count"`
	EstimatedBytes      int64    `json:"estimated_bytes"`
	IsIndexing          bool     `json:"is_indexing"`
	Phase               string   `json:"phase,omitempty"`
	PercentDone         float64  `json:"percent_done,omitempty"`
	RecentErrors        []string `json:"recent_errors,omitempty" jsonschema:"\"path: message\" entries from the bounded error ring"`
}

// CheckIndexInput is the input schema for the check_index tool.
type CheckIndexInput struct {
	DeepScan bool `json:"deep_scan,omitempty" jsonschema:"also scan every point in the collection and compare per-path point counts; without it only checks that indexed files still exist on disk"`
}

// InconsistencyOutput mirrors one internal/index.Inconsistency finding.
type InconsistencyOutput struct {
	Type         string `json:"type"`
	RelativePath string `json:"relative_path"`
	Details      string `json:"details"`
}

// CheckIndexOutput is the output schema for the check_index tool.
type CheckIndexOutput struct {
	FilesChecked    int                   `json:"files_checked"`
	PointsScanned   int                   `json:"points_scanned"`
	Inconsistencies []InconsistencyOutput `json:"inconsistencies"`
}

// RepairIndexInput is the input schema for the repair_index tool.
type RepairIndexInput struct {
	DeepScan bool `json:"deep_scan,omitempty" jsonschema:"scan every point in the collection before repairing"`
}

// RepairIndexOutput is the output schema for the repair_index tool.
type RepairIndexOutput struct {
	Reindexed []string `json:"reindexed"`
	Deleted   []string `json:"deleted_orphans"`
	Failed    []string `json:"failed"`
}
