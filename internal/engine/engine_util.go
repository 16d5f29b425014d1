package engine

import (
	"fmt"

	"github.com/DoyleJ11/guess-lobby-backend/internal/lobby"
)

func cleanLobby(raw string) (string, error) {
	name, err := lobby.CleanName(raw, lobby.MaxLobbyName)
	if err != nil {
		return "", fmt.Errorf("lobby name: %w", err)
	}
	return name, nil
}

func cleanTeam(raw string) (string, error) {
	name, err := lobby.CleanName(raw, lobby.MaxTeamName)
	if err != nil {
		return "", fmt.Errorf("team name: %w", err)
	}
	return name, nil
}

func cleanUsername(raw string) (string, error) {
	name, err := lobby.CleanName(raw, lobby.MaxUsername)
	if err != nil {
		return "", fmt.Errorf("username: %w", err)
	}
	return name, nil
}

func hasTeam(s lobby.Snapshot, team string) bool {
	_, ok := s.Teams[team]
	return ok
}
