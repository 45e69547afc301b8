package rate

func challengeKey(userID string) string {
	return "vgc:" + userID
}

func openKey(userID string) string {
	return "vgo:" + userID
}
