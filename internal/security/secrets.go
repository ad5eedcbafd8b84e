package security

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math"
	"strings"
)

const (
	// MinSecretLength is the shortest secret GenerateSecret will produce.
	MinSecretLength = 16

	// RecommendedSecretLength is the length below which AssessSecret warns.
	RecommendedSecretLength = 32

	// DefaultSecretLength is used by the CLI when no length is given.
	DefaultSecretLength = 48

	// MinEntropy is the minimum Shannon entropy (bits per character) a
	// secret needs to pass AssessSecret.
	MinEntropy = 3.5
)

var placeholderSecrets = map[string]bool{
	"secret":                  true,
	"password":                true,
	"changeme":                true,
	"topsecret":               true,
	"replace-with-secret":     true,
	"github-webhook-password": true,
	"your-webhook-secret":     true,
}

var placeholderFragments = []string{"replace", "changeme", "topsecret", "password", "example"}

// AssessSecret returns the problems found with a webhook secret.
// An empty result means the secret is acceptable.
func AssessSecret(secret string) []string {
	if secret == "" {
		return []string{"no webhook secret configured, signatures will not be verified"}
	}

	var problems []string
	if len(secret) < RecommendedSecretLength {
		problems = append(problems, fmt.Sprintf("secret too short (%d characters, recommended %d+)", len(secret), RecommendedSecretLength))
	}

	lower := strings.ToLower(secret)
	if placeholderSecrets[lower] {
		problems = append(problems, "secret is a well-known placeholder value")
	} else {
		for _, fragment := range placeholderFragments {
			if strings.Contains(lower, fragment) {
				problems = append(problems, fmt.Sprintf("secret looks like a placeholder (contains %q)", fragment))
				break
			}
		}
	}

	if entropy := calculateEntropy(secret); entropy < MinEntropy {
		problems = append(problems, fmt.Sprintf("secret has insufficient entropy (%.2f < %.2f)", entropy, MinEntropy))
	} else if isSequential(secret) {
		problems = append(problems, "secret is mostly sequential characters")
	}

	return problems
}

// GenerateSecret creates a cryptographically secure random secret of the
// requested length using the URL-safe base64 alphabet. Lengths below
// MinSecretLength are raised to it.
func GenerateSecret(length int) (string, error) {
	if length < MinSecretLength {
		length = MinSecretLength
	}

	raw := make([]byte, (length*3+3)/4)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("failed to generate random secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw)[:length], nil
}

// calculateEntropy computes the Shannon entropy of a string.
func calculateEntropy(s string) float64 {
	if len(s) == 0 {
		return 0
	}

	freq := make(map[rune]int)
	total := 0
	for _, c := range s {
		freq[c]++
		total++
	}

	var entropy float64
	length := float64(total)
	for _, count := range freq {
		p := float64(count) / length
		entropy -= p * math.Log2(p)
	}

	return entropy
}

// isSequential reports whether more than 70% of adjacent characters are
// consecutive code points ("12345", "abcd", "dcba").
func isSequential(s string) bool {
	if len(s) < 4 {
		return false
	}

	sequential := 0
	for i := 1; i < len(s); i++ {
		if s[i] == s[i-1]+1 || s[i] == s[i-1]-1 {
			sequential++
		}
	}

	return float64(sequential) > float64(len(s))*0.7
}
