package memory

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/cory-johannsen/chatrelay/internal/chat"
)

// Seed is the YAML fixture format loaded by the memory driver.
type Seed struct {
	Users         []chat.User         `yaml:"users"`
	StoreItems    []chat.StoreItem    `yaml:"store_items"`
	Blocks        []chat.Block        `yaml:"blocks"`
	Conversations []chat.Conversation `yaml:"conversations"`
}

// LoadSeed reads a seed file.
//
// Precondition: path must name a readable YAML file.
// Postcondition: Returns a validated Seed or a non-nil error.
func LoadSeed(path string) (Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Seed{}, fmt.Errorf("reading seed file %s: %w", path, err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes and validates seed YAML.
func ParseSeed(data []byte) (Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return Seed{}, fmt.Errorf("parsing seed: %w", err)
	}
	if err := seed.Validate(); err != nil {
		return Seed{}, err
	}
	return seed, nil
}

// Validate checks that every record carries its identifiers.
func (s Seed) Validate() error {
	var errs []error
	for i, u := range s.Users {
		if u.ID == "" || u.Username == "" {
			errs = append(errs, fmt.Errorf("users[%d]: id and username must not be empty", i))
		}
	}
	for i, item := range s.StoreItems {
		if item.ID == "" {
			errs = append(errs, fmt.Errorf("store_items[%d]: id must not be empty", i))
		}
	}
	for i, b := range s.Blocks {
		if b.BlockerID == "" || b.BlockedID == "" {
			errs = append(errs, fmt.Errorf("blocks[%d]: blocker_id and blocked_id must not be empty", i))
		}
	}
	for i, c := range s.Conversations {
		if c.User1ID == "" || c.User2ID == "" {
			errs = append(errs, fmt.Errorf("conversations[%d]: user1_id and user2_id must not be empty", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid seed: %w", errors.Join(errs...))
	}
	return nil
}

// Apply loads every seed record into the store.
func (s *Store) Apply(seed Seed) {
	for _, u := range seed.Users {
		s.PutUser(u)
	}
	for _, item := range seed.StoreItems {
		s.PutStoreItem(item)
	}
	for _, b := range seed.Blocks {
		s.Block(b.BlockerID, b.BlockedID)
	}
	for _, c := range seed.Conversations {
		s.CreateConversation(c.ID, c.User1ID, c.User2ID)
	}
}
