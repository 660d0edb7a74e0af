package models

// ImportRow is one parsed line of a Mikhmon ticket export.
type ImportRow struct {
	Username  string `json:"username"`
	Password  string `json:"password"`
	Profile   string `json:"profile"`
	TimeLimit string `json:"time_limit,omitempty"`
	DataLimit string `json:"data_limit,omitempty"`
	Comment   string `json:"comment,omitempty"`
}

// ImportResult summarizes a batch import. Errors carry the 1-based row
// number; a bad row never aborts the rest of the batch.
type ImportResult struct {
	Imported int      `json:"imported"`
	Failed   int      `json:"failed"`
	Errors   []string `json:"errors"`
}
