package credentials

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreUsers(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	user := &User{ID: "usr_1", Email: "shopper@example.com", CreatedAt: now, UpdatedAt: now}
	if err := s.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if err := s.CreateUser(ctx, user); !errors.Is(err, ErrDuplicateUser) {
		t.Errorf("duplicate CreateUser() error = %v, want ErrDuplicateUser", err)
	}

	got, err := s.GetUser(ctx, "shopper@example.com")
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if got.ID != "usr_1" {
		t.Errorf("GetUser() id = %q", got.ID)
	}

	// The store hands out copies.
	got.DisplayName = "mutated"
	again, _ := s.GetUser(ctx, "shopper@example.com")
	if again.DisplayName == "mutated" {
		t.Error("mutating a returned user leaked into the store")
	}

	if _, err := s.GetUser(ctx, "nobody@example.com"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("GetUser(missing) error = %v, want ErrUserNotFound", err)
	}
}

func TestMemoryStoreCredentials(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	pub, _, _ := ed25519.GenerateKey(rand.Reader)

	cred := &DeviceCredential{ID: "cred-1", UserEmail: "shopper@example.com", PublicKey: pub, CreatedAt: time.Now()}
	if err := s.PutCredential(ctx, cred); err != nil {
		t.Fatalf("PutCredential() error = %v", err)
	}

	if err := s.SetCredentialCounter(ctx, "cred-1", 7); err != nil {
		t.Fatalf("SetCredentialCounter() error = %v", err)
	}
	got, err := s.GetCredential(ctx, "cred-1")
	if err != nil {
		t.Fatalf("GetCredential() error = %v", err)
	}
	if got.Counter != 7 {
		t.Errorf("counter = %d, want 7", got.Counter)
	}

	list, err := s.CredentialsForUser(ctx, "shopper@example.com")
	if err != nil {
		t.Fatalf("CredentialsForUser() error = %v", err)
	}
	if len(list) != 1 {
		t.Errorf("CredentialsForUser() returned %d credentials", len(list))
	}

	if _, err := s.GetCredential(ctx, "cred-missing"); !errors.Is(err, ErrCredentialNotFound) {
		t.Errorf("GetCredential(missing) error = %v, want ErrCredentialNotFound", err)
	}
	if err := s.SetCredentialCounter(ctx, "cred-missing", 1); !errors.Is(err, ErrCredentialNotFound) {
		t.Errorf("SetCredentialCounter(missing) error = %v, want ErrCredentialNotFound", err)
	}
}

func TestMemoryStoreInstrumentDefaults(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Now()

	add := func(id string, def bool, offset time.Duration) {
		t.Helper()
		err := s.AddInstrument(ctx, &Instrument{
			ID:        id,
			UserEmail: "shopper@example.com",
			LastFour:  "0000",
			Default:   def,
			CreatedAt: base.Add(offset),
		})
		if err != nil {
			t.Fatalf("AddInstrument(%s) error = %v", id, err)
		}
	}

	// The first card becomes the default even when not asked to.
	add("card_a", false, 0)
	def, err := s.DefaultInstrument(ctx, "shopper@example.com")
	if err != nil {
		t.Fatalf("DefaultInstrument() error = %v", err)
	}
	if def.ID != "card_a" {
		t.Errorf("default = %s, want card_a", def.ID)
	}

	// A later non-default card leaves the default alone.
	add("card_b", false, time.Second)
	def, _ = s.DefaultInstrument(ctx, "shopper@example.com")
	if def.ID != "card_a" {
		t.Errorf("default = %s, want card_a", def.ID)
	}

	// A default card displaces the previous default.
	add("card_c", true, 2*time.Second)
	def, _ = s.DefaultInstrument(ctx, "shopper@example.com")
	if def.ID != "card_c" {
		t.Errorf("default = %s, want card_c", def.ID)
	}
	a, _ := s.GetInstrument(ctx, "card_a")
	if a.Default {
		t.Error("card_a kept its default flag after displacement")
	}

	// Listing puts the default first, the rest oldest-first.
	list, err := s.ListInstruments(ctx, "shopper@example.com")
	if err != nil {
		t.Fatalf("ListInstruments() error = %v", err)
	}
	if len(list) != 3 || list[0].ID != "card_c" || list[1].ID != "card_a" || list[2].ID != "card_b" {
		ids := make([]string, 0, len(list))
		for _, ins := range list {
			ids = append(ids, ins.ID)
		}
		t.Errorf("ListInstruments() order = %v, want [card_c card_a card_b]", ids)
	}
}

func TestMemoryStoreInstrumentToken(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	err := s.AddInstrument(ctx, &Instrument{ID: "card_a", UserEmail: "shopper@example.com", CreatedAt: time.Now()})
	if err != nil {
		t.Fatalf("AddInstrument() error = %v", err)
	}

	tokenizedAt := time.Now()
	err = s.SetInstrumentToken(ctx, "card_a", NetworkToken{
		Token:       "5204731612345678",
		Reference:   "ref-1",
		Assurance:   "high",
		TokenizedAt: tokenizedAt,
	})
	if err != nil {
		t.Fatalf("SetInstrumentToken() error = %v", err)
	}

	got, _ := s.GetInstrument(ctx, "card_a")
	if !got.Tokenized || got.NetworkToken != "5204731612345678" || got.TokenReference != "ref-1" {
		t.Errorf("instrument after token = %+v", got)
	}

	if err := s.SetInstrumentToken(ctx, "card_missing", NetworkToken{}); !errors.Is(err, ErrInstrumentNotFound) {
		t.Errorf("SetInstrumentToken(missing) error = %v, want ErrInstrumentNotFound", err)
	}
	if _, err := s.DefaultInstrument(ctx, "nobody@example.com"); !errors.Is(err, ErrInstrumentNotFound) {
		t.Errorf("DefaultInstrument(no cards) error = %v, want ErrInstrumentNotFound", err)
	}
}
