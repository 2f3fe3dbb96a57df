package providers

const (
	// Identifier for MaxMind GeoIP2/GeoLite2 databases.
	NameMaxmind = "maxmind"

	// Identifier for ipinfo.io.
	NameIPInfo = "ipinfo"

	// Identifier for a chain of providers.
	NameChain = "chain"
)
