package audience

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"
)

// Recipient is one resolved audience member with its template variables.
type Recipient struct {
	Phone string
	Vars  map[string]string
}

// Resolver expands audience segments into recipient lists. Audience
// import and segmentation happen upstream; this is only the read side.
type Resolver interface {
	Resolve(ctx context.Context, tenantID string, audienceIDs []string) ([]Recipient, error)
}

// RedisResolver reads audiences materialized as Redis hashes by the
// import pipeline: key audience:{tenant}:{id}, field phone, value a JSON
// object of template variables.
type RedisResolver struct {
	client *goredis.Client
}

func NewRedisResolver(client *goredis.Client) (*RedisResolver, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &RedisResolver{client: client}, nil
}

func audienceKey(tenantID, audienceID string) string {
	return fmt.Sprintf("audience:%s:%s", tenantID, audienceID)
}

// Resolve returns the union of all segments, deduplicated by phone. The
// first segment containing a phone wins its variables.
func (r *RedisResolver) Resolve(ctx context.Context, tenantID string, audienceIDs []string) ([]Recipient, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, fmt.Errorf("tenant id is required")
	}

	seen := make(map[string]bool)
	var recipients []Recipient

	for _, audienceID := range audienceIDs {
		members, err := r.client.HGetAll(ctx, audienceKey(tenantID, audienceID)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read audience %s: %w", audienceID, err)
		}

		for phone, rawVars := range members {
			if seen[phone] {
				continue
			}
			seen[phone] = true

			vars := map[string]string{}
			if rawVars != "" {
				if err := json.Unmarshal([]byte(rawVars), &vars); err != nil {
					// Malformed variables still produce a recipient;
					// the template renders with no substitutions.
					vars = map[string]string{}
				}
			}
			recipients = append(recipients, Recipient{Phone: phone, Vars: vars})
		}
	}

	return recipients, nil
}
