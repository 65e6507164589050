package api

const (
	// PingEndpoint is the endpoint for checking the API status
	PingEndpoint = "/ping"
	// StatusEndpoint reports the scanner cursor and tree replica state
	StatusEndpoint = "/status"
	// RootEndpoint returns the current tree root
	RootEndpoint = "/root"
	// PathEndpoint returns the Merkle sibling path for a commitment
	CommitmentURLParam = "commitment"
	PathEndpoint       = "/path/{" + CommitmentURLParam + "}"
	// NullifierEndpoint reports whether a nullifier hash has been spent
	NullifierURLParam = "nullifierHash"
	NullifierEndpoint = "/nullifier/{" + NullifierURLParam + "}"
	// AnnouncementsEndpoint lists stored stealth announcements, for
	// recipients scanning for payments
	AnnouncementsEndpoint = "/announcements"
)
