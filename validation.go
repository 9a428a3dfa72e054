package main

import "unicode"

func isValidPlayerID(playerID string) bool {
	if playerID == "" || len(playerID) > 64 {
		return false
	}

	for _, r := range playerID {
		if r == '-' || r == '_' {
			continue
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			continue
		}
		return false
	}

	return true
}

// Location and province ids share the player id alphabet.
func isValidLocationID(locationID string) bool {
	return isValidPlayerID(locationID)
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
