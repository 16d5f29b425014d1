package types

// LobbyState is the payload of updateLobbyState. Users are in leaderboard
// order; Team is empty for users without a team.
type LobbyState struct {
	Lobby   string              `json:"lobby"`
	Version int                 `json:"version"`
	Users   []UserState         `json:"users"`
	Teams   map[string][]string `json:"teams"`
}

type UserState struct {
	Username string `json:"username"`
	Score    int    `json:"score"`
	Team     string `json:"team"`
}
