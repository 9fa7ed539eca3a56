package handler

type PruneRequest struct {
	// pointer so an omitted field is distinguishable from 0
	OlderThanDays *int `json:"olderThanDays" validate:"required,min=0"`
}

type ResetRequest struct {
	ClientIP string `json:"clientIp" validate:"required,ip"`
}

type PruneResponse struct {
	RemovedCount   int `json:"removedCount"`
	RemainingCount int `json:"remainingCount"`
}
