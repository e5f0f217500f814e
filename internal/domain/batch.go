package domain

// MessageError identifies a queue message that failed and why.
type MessageError struct {
	MessageID string `json:"messageId"`
	Error     string `json:"error"`
}

// DispatchSummary is the batch-level result of the dispatch pipeline.
type DispatchSummary struct {
	Successful int            `json:"successful"`
	Failed     int            `json:"failed"`
	Errors     []MessageError `json:"errors"`
}

// ResolutionSummary is the batch-level result of the resolution pipeline.
type ResolutionSummary struct {
	Processed     int `json:"processed"`
	Resolved      int `json:"resolved"`
	Critical      int `json:"criticalErrors"`
	AdminNotified int `json:"adminNotified"`
}
