package extractor

// response is the JSON object the model is asked to produce.
type response struct {
	Intent          string   `json:"intent"`
	Title           *string  `json:"title"`
	Attendees       []string `json:"attendees"`
	DurationMinutes *int     `json:"duration_minutes"`
	Date            *string  `json:"date"`
	Daypart         *string  `json:"daypart"`
	WindowStart     *string  `json:"window_start"`
	WindowEnd       *string  `json:"window_end"`
	SlotStart       *string  `json:"slot_start"`
	Ordinal         *int     `json:"ordinal"`
	Signal          *string  `json:"signal"`
}
