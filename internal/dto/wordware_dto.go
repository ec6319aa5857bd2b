package dto

import "time"

type RunRequest struct {
	Username string `json:"username" validate:"required,max=50"`
	Full     bool   `json:"full"`
}

// AlreadyStartedResponse keeps the body shape existing clients check for.
type AlreadyStartedResponse struct {
	Error string `json:"error"`
}

type TierStatus struct {
	Started     bool       `json:"started"`
	Completed   bool       `json:"completed"`
	StartedTime *time.Time `json:"started_time,omitempty"`
}

type RunStatusResponse struct {
	Username    string                 `json:"username"`
	Free        TierStatus             `json:"free"`
	Paid        TierStatus             `json:"paid"`
	HasAnalysis bool                   `json:"has_analysis"`
	Analysis    map[string]interface{} `json:"analysis,omitempty"`
}
