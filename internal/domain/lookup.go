package domain

// League is a row of a sport's league lookup table.
type League struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	LogoURL string `json:"logoUrl"`
}

// Team is a row of a sport's team lookup table.
type Team struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	LogoURL  string `json:"logoUrl"`
	LeagueID string `json:"leagueId"`
}
