package models

import (
	"strings"
	"time"
)

// Store is one installed shop. SealedToken is the AES-GCM sealed Admin API
// access token; the plaintext token never touches the database.
type Store struct {
	ID          string
	ShopDomain  string
	SealedToken string
	Scopes      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// QuestionRecord is one processed question kept for the history endpoint.
type QuestionRecord struct {
	ID         string
	ShopDomain string
	Question   string
	Answer     string
	Confidence string
	QueryUsed  string
	LatencyMS  int
	CreatedAt  time.Time
}

// NormalizeShopDomain reduces user-supplied shop identifiers to the bare
// domain form: scheme and trailing slashes removed, and a bare store name
// gets the .myshopify.com suffix.
func NormalizeShopDomain(domain string) string {
	domain = strings.TrimSpace(domain)
	domain = strings.TrimPrefix(domain, "https://")
	domain = strings.TrimPrefix(domain, "http://")
	domain = strings.TrimRight(domain, "/")

	if !strings.HasSuffix(domain, ".myshopify.com") && !strings.Contains(domain, ".") {
		domain += ".myshopify.com"
	}
	return domain
}
