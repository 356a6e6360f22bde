package valkey

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"golang.org/x/crypto/bcrypt"

	"github.com/giantswarm/idp/storage"
)

// dummyHash is compared against when a client does not exist, so unknown
// and known clients cost the same bcrypt work.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// ============================================================
// ClientStore Implementation
// ============================================================

// SaveClient saves a registered client. Clients do not expire.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	if client == nil {
		return fmt.Errorf("invalid client")
	}
	if err := validateID(client.ClientID, "client id"); err != nil {
		return err
	}

	data, err := json.Marshal(toClientJSON(client))
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}

	key := s.clientKey(client.ClientID)
	if err := s.client.Do(ctx, s.client.B().Set().Key(key).Value(string(data)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}

	s.logger.Debug("Saved client", "client_id", client.ClientID)
	return nil
}

// GetClient retrieves a client by ID
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	client, err := getAndUnmarshal(ctx, s, s.clientKey(clientID), false, fromClientJSON)
	if err != nil {
		return nil, fmt.Errorf("client %q: %w", clientID, err)
	}
	return client, nil
}

// ValidateClientSecret validates a client's secret using bcrypt.
// The comparison always runs so that a missing client is indistinguishable by timing.
func (s *Store) ValidateClientSecret(ctx context.Context, clientID, clientSecret string) error {
	client, err := s.GetClient(ctx, clientID)

	hashToCompare := dummyHash
	if err == nil && client.ClientSecretHash != "" {
		hashToCompare = client.ClientSecretHash
	}

	bcryptErr := bcrypt.CompareHashAndPassword([]byte(hashToCompare), []byte(clientSecret))

	if err != nil || client.ClientSecretHash == "" || bcryptErr != nil {
		return storage.ErrInvalidClientCredentials
	}
	return nil
}

// ListClients lists all registered clients ordered by client id
func (s *Store) ListClients(ctx context.Context) ([]*storage.Client, error) {
	pattern := s.clientKey("*")

	// SCAN can return the same key more than once
	clientMap := make(map[string]*storage.Client)

	var cursor uint64
	for {
		result, err := s.client.Do(ctx,
			s.client.B().Scan().Cursor(cursor).Match(pattern).Count(scanBatchSize).Build(),
		).AsScanEntry()
		if err != nil {
			return nil, fmt.Errorf("failed to scan clients: %w", err)
		}

		for _, key := range result.Elements {
			if _, exists := clientMap[key]; exists {
				continue
			}

			data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
			if err != nil {
				if isNilError(err) {
					continue // deleted between SCAN and GET
				}
				return nil, fmt.Errorf("failed to get client %s: %w", key, err)
			}

			var j clientJSON
			if err := json.Unmarshal([]byte(data), &j); err != nil {
				s.logger.Warn("Failed to unmarshal client, skipping",
					"key", key,
					"error", err)
				continue
			}

			clientMap[key] = fromClientJSON(&j)
		}

		cursor = result.Cursor
		if cursor == 0 {
			break
		}
	}

	clients := make([]*storage.Client, 0, len(clientMap))
	for _, c := range clientMap {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].ClientID < clients[j].ClientID })

	return clients, nil
}
